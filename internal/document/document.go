// Package document writes device use agreements to disk and files them
// away once a checkout is final.
package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/service"
	"loaner-backend/internal/utils"
)

type Agreement struct {
	Title      string          `yaml:"title"`
	Session    string          `yaml:"session"`
	CheckoutID int32           `yaml:"checkout_id"`
	Student    AgreementPerson `yaml:"student"`
	Device     AgreementDevice `yaml:"device"`
	Insurance  AgreementFee    `yaml:"insurance"`
	Signatures AgreementSigned `yaml:"signatures"`
	Terms      []string        `yaml:"terms"`
}

type AgreementPerson struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Grade string `yaml:"grade,omitempty"`
}

type AgreementDevice struct {
	AssetTag     string `yaml:"asset_tag"`
	SerialNumber string `yaml:"serial_number"`
	Model        string `yaml:"model"`
}

type AgreementFee struct {
	Elected bool   `yaml:"elected"`
	Status  string `yaml:"status"`
	Fee     string `yaml:"fee,omitempty"`
	Balance string `yaml:"balance,omitempty"`
}

type AgreementSigned struct {
	Student       string    `yaml:"student"`
	Parent        string    `yaml:"parent,omitempty"`
	ParentPresent bool      `yaml:"parent_present"`
	ProcessedBy   int32     `yaml:"processed_by"`
	SignedOn      time.Time `yaml:"signed_on"`
}

var defaultTerms = []string{
	"The device remains the property of the school and is returned on request.",
	"Damage beyond normal wear is charged at the published part cost.",
	"Insurance covers one repair per term and is refunded as credit on return.",
}

type Store struct {
	agreementDir string
	archiveDir   string
	now          func() time.Time
}

func NewStore(agreementDir, archiveDir string) (*Store, error) {
	for _, dir := range []string{agreementDir, archiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Store{agreementDir: agreementDir, archiveDir: archiveDir, now: time.Now}, nil
}

var _ service.DocumentService = (*Store)(nil)

func (s *Store) GenerateAgreement(ctx context.Context, f service.AgreementFields) (string, error) {
	doc := Agreement{
		Title:      "Device Use Agreement",
		Session:    f.SessionID,
		CheckoutID: f.CheckoutID,
		Student:    AgreementPerson{ID: f.PersonID, Name: f.PersonName, Grade: f.Grade},
		Device:     AgreementDevice{AssetTag: f.AssetTag, SerialNumber: f.SerialNumber, Model: f.Model},
		Insurance:  AgreementFee{Elected: f.InsuranceElected, Status: string(f.InsuranceStatus)},
		Signatures: AgreementSigned{
			Student:       f.StudentSignature,
			Parent:        f.ParentSignature,
			ParentPresent: f.ParentPresent,
			ProcessedBy:   f.ProcessedBy,
			SignedOn:      f.SignedOn,
		},
		Terms: defaultTerms,
	}
	if f.InsuranceElected {
		doc.Insurance.Fee = utils.FormatCents(f.InsuranceFeeCents)
		doc.Insurance.Balance = utils.FormatCents(f.BalanceCents)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode agreement: %w", err)
	}
	name := s.SanitizeFilename(fmt.Sprintf("%s_%s_%s.yaml", f.AssetTag, f.PersonID, f.SessionID))
	path := filepath.Join(s.agreementDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write agreement: %w", err)
	}
	logger.Debug("Agreement generated", "path", path, "checkout_id", f.CheckoutID)
	return path, nil
}

// ArchiveAgreement moves a generated agreement into the archive, grouped by
// month, and returns its new path. Archiving an already archived file
// returns the archived path.
func (s *Store) ArchiveAgreement(ctx context.Context, filename string) (string, error) {
	base := s.SanitizeFilename(filepath.Base(filename))
	dir := filepath.Join(s.archiveDir, s.now().Format("2006-01"))
	target := filepath.Join(dir, base)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.Rename(filepath.Join(s.agreementDir, filepath.Base(filename)), target); err != nil {
		return "", fmt.Errorf("failed to archive agreement: %w", err)
	}
	return target, nil
}

// ReadAgreement decodes an agreement written by GenerateAgreement.
func ReadAgreement(path string) (*Agreement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Agreement
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode agreement: %w", err)
	}
	return &doc, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename keeps letters, digits, dots, dashes and underscores and
// never returns a name that could escape its directory.
func (s *Store) SanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "unnamed"
	}
	return name
}
