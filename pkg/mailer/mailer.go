package mailer

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/logger"
)

// Config holds the SMTP settings for outbound mail.
type Config struct {
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	Sender    string `mapstructure:"sender"`
	Password  string `mapstructure:"password"`
	Recipient string `mapstructure:"recipient"`
}

// Notifier defines the interface for the report/alert mail channel.
type Notifier interface {
	SendReport(subject, body string, attachments []string) error
	SendTradeAlerts(alerts []entity.TradeAlert) error
	TestConnection() error
}

type client struct {
	cfg Config
	log *logger.Logger
}

// NewClient creates a new SMTP mail notifier.
func NewClient(cfg Config, log *logger.Logger) Notifier {
	return &client{cfg: cfg, log: log}
}

// SendReport sends a plain-text report with optional file attachments.
// Attachment paths that do not exist are skipped with a warning.
func (c *client) SendReport(subject, body string, attachments []string) error {
	msg, err := c.buildMessage(subject, body, attachments)
	if err != nil {
		return err
	}
	if err := c.send(msg); err != nil {
		c.log.Error("Failed to send report email", logger.ErrorField(err), logger.StringField("subject", subject))
		return err
	}
	c.log.Info("Report email sent", logger.StringField("subject", subject))
	return nil
}

// SendTradeAlerts sends the intraday buy/sell alert digest.
func (c *client) SendTradeAlerts(alerts []entity.TradeAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	var buys, sells []entity.TradeAlert
	for _, alert := range alerts {
		switch alert.SignalType {
		case entity.AlertBuy:
			buys = append(buys, alert)
		case entity.AlertSell:
			sells = append(sells, alert)
		}
	}

	subject := fmt.Sprintf("[台股警報] 買入%d檔 / 賣出%d檔", len(buys), len(sells))
	return c.SendReport(subject, formatAlertBody(buys, sells), nil)
}

// TestConnection dials the SMTP server, negotiates STARTTLS, and
// authenticates without sending a message.
func (c *client) TestConnection() error {
	conn, err := c.dial()
	if err != nil {
		c.log.Error("SMTP connection test failed", logger.ErrorField(err))
		return err
	}
	defer conn.Close()

	if err := conn.Quit(); err != nil {
		return fmt.Errorf("smtp quit failed: %w", err)
	}
	c.log.Info("SMTP connection test succeeded")
	return nil
}

// dial connects to the SMTP server. Port 465 expects an implicit TLS
// session; everything else dials plain and upgrades via STARTTLS when the
// server offers it.
func (c *client) dial() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)

	var conn *smtp.Client
	if c.cfg.SMTPPort == 465 {
		tlsConn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: c.cfg.SMTPHost})
		if err != nil {
			return nil, fmt.Errorf("smtp tls dial %s failed: %w", addr, err)
		}
		conn, err = smtp.NewClient(tlsConn, c.cfg.SMTPHost)
		if err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("smtp client %s failed: %w", addr, err)
		}
	} else {
		var err error
		conn, err = smtp.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("smtp dial %s failed: %w", addr, err)
		}
		if ok, _ := conn.Extension("STARTTLS"); ok {
			if err := conn.StartTLS(&tls.Config{ServerName: c.cfg.SMTPHost}); err != nil {
				conn.Close()
				return nil, fmt.Errorf("starttls failed: %w", err)
			}
		}
	}

	auth := smtp.PlainAuth("", c.cfg.Sender, c.cfg.Password, c.cfg.SMTPHost)
	if err := conn.Auth(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp auth failed: %w", err)
	}
	return conn, nil
}

func (c *client) send(msg []byte) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Mail(c.cfg.Sender); err != nil {
		return fmt.Errorf("smtp mail failed: %w", err)
	}
	if err := conn.Rcpt(c.cfg.Recipient); err != nil {
		return fmt.Errorf("smtp rcpt failed: %w", err)
	}

	writer, err := conn.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp close failed: %w", err)
	}
	return conn.Quit()
}

// buildMessage assembles a multipart/mixed MIME message with a UTF-8 text
// body and base64-encoded attachments.
func (c *client) buildMessage(subject, body string, attachments []string) ([]byte, error) {
	boundary, err := generateBoundary()
	if err != nil {
		return nil, err
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", c.cfg.Sender))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", c.cfg.Recipient))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n", boundary))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: base64\r\n")
	msg.WriteString("\r\n")
	writeBase64(&msg, []byte(body))

	for _, path := range attachments {
		content, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn("Attachment missing, skipping", logger.StringField("path", path), logger.ErrorField(err))
			continue
		}

		name := filepath.Base(path)
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString(fmt.Sprintf("Content-Type: application/octet-stream; name=%q\r\n", name))
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q\r\n", name))
		msg.WriteString("\r\n")
		writeBase64(&msg, content)
	}

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(msg.String()), nil
}

func formatAlertBody(buys, sells []entity.TradeAlert) string {
	var lines []string
	rule := strings.Repeat("=", 50)
	sep := strings.Repeat("-", 40)

	lines = append(lines, rule, "  台股盤中買賣警報", rule, "")

	writeSection := func(title string, alerts []entity.TradeAlert) {
		if len(alerts) == 0 {
			return
		}
		lines = append(lines, title, sep)
		for _, alert := range alerts {
			lines = append(lines,
				fmt.Sprintf("  %s %s", alert.StockCode, alert.StockName),
				fmt.Sprintf("  當前價格: %g", alert.Price),
				fmt.Sprintf("  觸發原因: %s", alert.Reason),
			)
			if alert.QuantityNote != "" {
				lines = append(lines, fmt.Sprintf("  建議數量: %d%s（%s）",
					alert.SuggestedQuantity, alert.QuantityUnit, alert.QuantityNote))
			}
			lines = append(lines, "")
		}
	}

	writeSection("【買入信號】", buys)
	writeSection("【賣出信號】", sells)

	lines = append(lines, rule, "此為自動化系統產生之警報，僅供參考，不構成投資建議。")
	return strings.Join(lines, "\n")
}

// writeBase64 appends base64 content wrapped at 76 columns per RFC 2045.
func writeBase64(msg *strings.Builder, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		msg.WriteString(encoded[:76])
		msg.WriteString("\r\n")
		encoded = encoded[76:]
	}
	msg.WriteString(encoded)
	msg.WriteString("\r\n")
}

func generateBoundary() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate mime boundary: %w", err)
	}
	return fmt.Sprintf("%x", buf), nil
}
