package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"loaner-backend/internal/config"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/utils"
)

// Sender delivers a prepared message. *sendgrid.Client satisfies it.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type SendGridService struct {
	client    Sender
	fromEmail string
	fromName  string
}

func NewSendGridService(cfg config.EmailConfig) *SendGridService {
	return NewSendGridServiceWithClient(sendgrid.NewSendClient(cfg.APIKey), cfg.From, cfg.FromName)
}

func NewSendGridServiceWithClient(client Sender, fromEmail, fromName string) *SendGridService {
	if fromName == "" {
		fromName = "Device Loaner Program"
	}
	return &SendGridService{client: client, fromEmail: fromEmail, fromName: fromName}
}

func (s *SendGridService) send(message *mail.SGMailV3) error {
	response, err := s.client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

// recipients returns the student plus, when known, a parent in copy.
func (s *SendGridService) recipients(person *domain.Person) (*mail.Personalization, error) {
	if person.Email == "" {
		return nil, fmt.Errorf("person %s has no email address", person.ID)
	}
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(person.FullName(), person.Email))
	if person.ParentEmail != "" && !strings.EqualFold(person.ParentEmail, person.Email) {
		p.AddCCs(mail.NewEmail("", person.ParentEmail))
	}
	return p, nil
}

func (s *SendGridService) message(person *domain.Person, subject, plainText string) (*mail.SGMailV3, error) {
	p, err := s.recipients(person)
	if err != nil {
		return nil, err
	}
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	m.Subject = subject
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", plainText))
	return m, nil
}

// SendAgreement mails the signed use agreement to the student, copying the
// parent, with the agreement document attached.
func (s *SendGridService) SendAgreement(ctx context.Context, person *domain.Person, device *domain.Device, agreementPath string) error {
	body := fmt.Sprintf("Hello %s,\n\nYou have been issued device %s (%s). "+
		"Your device use agreement is attached for your records.\n\n"+
		"Please contact the technology office with any questions.",
		person.FullName(), device.AssetTag, device.Model)

	m, err := s.message(person, fmt.Sprintf("Device Agreement: %s", device.AssetTag), body)
	if err != nil {
		return err
	}

	if agreementPath != "" {
		data, err := os.ReadFile(agreementPath)
		if err != nil {
			return fmt.Errorf("failed to read agreement: %w", err)
		}
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(data))
		a.SetType("application/x-yaml")
		a.SetFilename(filepath.Base(agreementPath))
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}

	return s.send(m)
}

// SendReturnReceipt confirms a device return and any damage fee charged.
func (s *SendGridService) SendReturnReceipt(ctx context.Context, person *domain.Person, device *domain.Device, condition domain.ReturnCondition, damageFeeCents int32) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nWe received device %s back in %s condition.", person.FullName(), device.AssetTag, condition)
	if damageFeeCents > 0 {
		fmt.Fprintf(&b, "\n\nA repair fee of %s has been added to your account.", utils.FormatCents(damageFeeCents))
	}
	b.WriteString("\n\nThank you.")

	m, err := s.message(person, fmt.Sprintf("Device Returned: %s", device.AssetTag), b.String())
	if err != nil {
		return err
	}
	return s.send(m)
}
