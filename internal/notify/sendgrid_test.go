package notify_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/notify"
)

type fakeSender struct {
	sent     []*mail.SGMailV3
	response *rest.Response
	err      error
}

func (f *fakeSender) Send(m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &rest.Response{StatusCode: 202}, nil
}

var (
	student = &domain.Person{ID: "100234", FirstName: "Ana", LastName: "Diaz", Email: "ana@students.example.org", ParentEmail: "parent@example.org"}
	laptop  = &domain.Device{ID: 1, AssetTag: "LNR-0042", Model: "Chromebook 314"}
)

func TestSendAgreement_AttachesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LNR-0042_100234_s1.yaml")
	require.NoError(t, os.WriteFile(path, []byte("asset_tag: LNR-0042\n"), 0644))

	sender := &fakeSender{}
	svc := notify.NewSendGridServiceWithClient(sender, "it@example.org", "")

	require.NoError(t, svc.SendAgreement(context.Background(), student, laptop, path))
	require.Len(t, sender.sent, 1)

	m := sender.sent[0]
	assert.Equal(t, "Device Agreement: LNR-0042", m.Subject)
	assert.Equal(t, "it@example.org", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "ana@students.example.org", m.Personalizations[0].To[0].Address)
	require.Len(t, m.Personalizations[0].CC, 1)
	assert.Equal(t, "parent@example.org", m.Personalizations[0].CC[0].Address)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "LNR-0042_100234_s1.yaml", m.Attachments[0].Filename)
}

func TestSendAgreement_MissingFile(t *testing.T) {
	sender := &fakeSender{}
	svc := notify.NewSendGridServiceWithClient(sender, "it@example.org", "IT")

	err := svc.SendAgreement(context.Background(), student, laptop, "/nonexistent/agreement.yaml")
	assert.Error(t, err)
	assert.Empty(t, sender.sent)
}

func TestSendReturnReceipt(t *testing.T) {
	sender := &fakeSender{}
	svc := notify.NewSendGridServiceWithClient(sender, "it@example.org", "IT")

	require.NoError(t, svc.SendReturnReceipt(context.Background(), student, laptop, domain.ReturnConditionDamaged, 13000))
	require.Len(t, sender.sent, 1)
	m := sender.sent[0]
	assert.Equal(t, "Device Returned: LNR-0042", m.Subject)
	require.Len(t, m.Content, 1)
	assert.Contains(t, m.Content[0].Value, "$130.00")
}

func TestSend_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("transport error", func(t *testing.T) {
		svc := notify.NewSendGridServiceWithClient(&fakeSender{err: errors.New("dial tcp: timeout")}, "it@example.org", "IT")
		err := svc.SendReturnReceipt(ctx, student, laptop, domain.ReturnConditionGood, 0)
		assert.ErrorContains(t, err, "failed to send email")
	})

	t.Run("error status", func(t *testing.T) {
		sender := &fakeSender{response: &rest.Response{StatusCode: 401, Body: "unauthorized"}}
		svc := notify.NewSendGridServiceWithClient(sender, "it@example.org", "IT")
		err := svc.SendReturnReceipt(ctx, student, laptop, domain.ReturnConditionGood, 0)
		assert.ErrorContains(t, err, "status 401")
	})

	t.Run("no address", func(t *testing.T) {
		sender := &fakeSender{}
		svc := notify.NewSendGridServiceWithClient(sender, "it@example.org", "IT")
		err := svc.SendReturnReceipt(ctx, &domain.Person{ID: "1", FirstName: "X"}, laptop, domain.ReturnConditionGood, 0)
		assert.Error(t, err)
		assert.Empty(t, sender.sent)
	})
}
