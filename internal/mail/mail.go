// Package mail 发送账号验证邮件。
package mail

import (
	"context"

	"github.com/rs/zerolog/log"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender 在未配置 SMTP 时使用，只把邮件内容写入日志。
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, subject, body string) error {
	log.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("mail (not sent, smtp disabled)")
	return nil
}
