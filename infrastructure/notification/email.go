package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig 邮件配置
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	From     string `yaml:"from" json:"from"`
}

// Enabled 是否已配置
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port > 0
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailDispatcher 通过 SMTP 发送邮件
type EmailDispatcher struct {
	config   SMTPConfig
	sendMail sendMailFunc
}

// NewEmailDispatcher 创建邮件渠道
func NewEmailDispatcher(config SMTPConfig) *EmailDispatcher {
	return &EmailDispatcher{config: config, sendMail: smtp.SendMail}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("%w: email needs at least one recipient", ErrRejected)
	}
	for _, to := range msg.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("%w: invalid email address %q", ErrRejected, to)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", d.config.From)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	sb.WriteString(msg.Body)

	var auth smtp.Auth
	if d.config.Username != "" {
		auth = smtp.PlainAuth("", d.config.Username, d.config.Password, d.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", d.config.Host, d.config.Port)
	if err := d.sendMail(addr, auth, d.config.From, msg.To, []byte(sb.String())); err != nil {
		return fmt.Errorf("%w: smtp %s: %v", ErrUnavailable, addr, err)
	}
	return nil
}
