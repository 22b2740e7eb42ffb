package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/mtowater/waterbilling/internal/storage"
)

type Service struct {
	storage storage.Storage
}

func NewService(s storage.Storage) *Service {
	return &Service{storage: s}
}

func (s *Service) GetConfig(ctx context.Context) (*storage.EmailConfig, error) {
	return s.storage.GetEmailConfig(ctx)
}

func (s *Service) SaveConfig(ctx context.Context, cfg storage.EmailConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	return s.storage.SaveEmailConfig(ctx, cfg)
}

func (s *Service) SendEmail(ctx context.Context, to, subject, body string) error {
	cfg, err := s.storage.GetEmailConfig(ctx)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return errors.New("email not configured or disabled")
	}
	return s.send(cfg, to, subject, body)
}

func (s *Service) TestConfig(ctx context.Context, cfg storage.EmailConfig, to string) error {
	return s.send(&cfg, to, "Test Email", "This is a test email from the water billing office.")
}

func (s *Service) send(cfg *storage.EmailConfig, to, subject, body string) error {
	switch cfg.Provider {
	case "smtp", "gmail":
		return s.sendSMTP(cfg, to, subject, body)
	case "sendgrid":
		return s.sendSendgrid(cfg, to, subject, body)
	case "resend":
		return s.sendResend(cfg, to, subject, body)
	default:
		return fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// SendOverdueNotice emails a customer about an unpaid bill past its due date.
func (s *Service) SendOverdueNotice(ctx context.Context, to string, customer storage.Customer, bill storage.Bill, surcharge float64) error {
	subject := fmt.Sprintf("Overdue water bill for %s", bill.BilledMonth.Format("January 2006"))
	body := fmt.Sprintf(
		"<p>Dear %s,</p>"+
			"<p>Our records show your water bill for %s remains unpaid.</p>"+
			"<ul>"+
			"<li>Basic amount: %.2f</li>"+
			"<li>Surcharge to date: %.2f</li>"+
			"</ul>"+
			"<p>Please settle at the municipal water office to avoid further surcharges.</p>",
		customer.Name, bill.BilledMonth.Format("January 2006"), bill.BasicAmount, surcharge)
	return s.SendEmail(ctx, to, subject, body)
}

// SendPaymentReceipt emails a customer a summary of a recorded payment.
func (s *Service) SendPaymentReceipt(ctx context.Context, to string, customer storage.Customer, bills []storage.Bill, paymentAmount float64) error {
	subject := "Water bill payment received"
	var lines bytes.Buffer
	for _, b := range bills {
		fmt.Fprintf(&lines, "<li>%s: %.2f</li>", b.BilledMonth.Format("January 2006"), b.TotalBillAmount)
	}
	body := fmt.Sprintf(
		"<p>Dear %s,</p>"+
			"<p>We received your payment of %.2f covering:</p>"+
			"<ul>%s</ul>"+
			"<p>Thank you.</p>",
		customer.Name, paymentAmount, lines.String())
	return s.SendEmail(ctx, to, subject, body)
}

func (s *Service) sendSMTP(cfg *storage.EmailConfig, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=\"UTF-8\"\r\n"+
		"\r\n"+
		"%s\r\n", to, subject, body))

	if cfg.Encryption == "ssl" {
		// Implicit TLS
		tlsConfig := &tls.Config{
			InsecureSkipVerify: false,
			ServerName:         cfg.Host,
		}
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return err
		}
		defer conn.Close()

		c, err := smtp.NewClient(conn, cfg.Host)
		if err != nil {
			return err
		}
		defer c.Quit()

		if cfg.Username != "" && cfg.Password != "" {
			auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
			if err = c.Auth(auth); err != nil {
				return err
			}
		}

		if err = c.Mail(cfg.FromAddress); err != nil {
			return err
		}
		if err = c.Rcpt(to); err != nil {
			return err
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err = w.Write(msg); err != nil {
			return err
		}
		return w.Close()
	} else if cfg.Encryption == "tls" {
		// STARTTLS
		c, err := smtp.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Quit()

		if ok, _ := c.Extension("STARTTLS"); ok {
			config := &tls.Config{ServerName: cfg.Host}
			if err = c.StartTLS(config); err != nil {
				return err
			}
		}

		if cfg.Username != "" && cfg.Password != "" {
			auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
			if err = c.Auth(auth); err != nil {
				return err
			}
		}

		if err = c.Mail(cfg.FromAddress); err != nil {
			return err
		}
		if err = c.Rcpt(to); err != nil {
			return err
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err = w.Write(msg); err != nil {
			return err
		}
		return w.Close()
	}

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	return smtp.SendMail(addr, auth, cfg.FromAddress, []string{to}, msg)
}

func (s *Service) sendSendgrid(cfg *storage.EmailConfig, to, subject, body string) error {
	from := mail.NewEmail(cfg.FromName, cfg.FromAddress)
	toEmail := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, toEmail, body, body)
	client := sendgrid.NewSendClient(cfg.APIKey)
	resp, err := client.Send(message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (s *Service) sendResend(cfg *storage.EmailConfig, to, subject, body string) error {
	url := "https://api.resend.com/emails"

	payload := map[string]string{
		"from":    fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress),
		"to":      to,
		"subject": subject,
		"html":    body,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend error: %d %s", resp.StatusCode, string(bodyBytes))
	}

	return nil
}
