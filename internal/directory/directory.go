// Package directory talks to the school's Google Workspace directory through
// the Admin SDK: students are looked up by id and Chromebooks are annotated
// with who holds them.
package directory

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"
	"loaner-backend/internal/config"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/service"
)

const defaultCustomer = "my_customer"

type Client struct {
	svc           *admin.Service
	customer      string
	studentDomain string
}

// New builds a client that acts as cfg.AdminSubject through domain-wide
// delegation of the service account in cfg.CredentialsFile.
func New(ctx context.Context, cfg config.DirectoryConfig) (*Client, error) {
	key, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(key,
		admin.AdminDirectoryUserReadonlyScope,
		admin.AdminDirectoryDeviceChromeosScope,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory credentials: %w", err)
	}
	jwtCfg.Subject = cfg.AdminSubject

	svc, err := admin.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create directory service: %w", err)
	}
	return NewWithService(svc, cfg.Customer, cfg.StudentDomain), nil
}

func NewWithService(svc *admin.Service, customer, studentDomain string) *Client {
	if customer == "" {
		customer = defaultCustomer
	}
	return &Client{svc: svc, customer: customer, studentDomain: strings.ToLower(studentDomain)}
}

var _ service.DirectoryService = (*Client)(nil)

// LookupPerson finds the student whose address carries the id, e.g.
// first.last.12345@students.example.org.
func (c *Client) LookupPerson(ctx context.Context, id string) (*domain.Person, error) {
	res, err := c.svc.Users.List().
		Customer(c.customer).
		Query(fmt.Sprintf("email:.%s@", id)).
		OrderBy("email").
		Projection("full").
		MaxResults(10).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var matches []*admin.User
	for _, u := range res.Users {
		if c.studentDomain != "" && !strings.HasSuffix(strings.ToLower(u.PrimaryEmail), "@"+c.studentDomain) {
			continue
		}
		matches = append(matches, u)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no directory user for %s", domain.ErrPersonNotFound, id)
	case 1:
		return toPerson(id, matches[0]), nil
	default:
		return nil, fmt.Errorf("%d directory users match student id %s", len(matches), id)
	}
}

func toPerson(id string, u *admin.User) *domain.Person {
	p := &domain.Person{
		ID:     id,
		Email:  u.PrimaryEmail,
		Active: !u.Suspended && !u.Archived,
	}
	if u.Name != nil {
		p.FirstName = u.Name.GivenName
		p.LastName = u.Name.FamilyName
	}
	// Student OUs end in the grade, e.g. /Students/09.
	if u.OrgUnitPath != "" && u.OrgUnitPath != "/" {
		p.Grade = path.Base(u.OrgUnitPath)
	}
	return p
}

// NotifyDeviceAnnotation replaces the notes of the Chromebook with the given
// asset tag.
func (c *Client) NotifyDeviceAnnotation(ctx context.Context, assetTag, text string) service.AnnotationResult {
	res, err := c.svc.Chromeosdevices.List(c.customer).
		Query("asset_id:" + assetTag).
		Projection("BASIC").
		MaxResults(2).
		Context(ctx).
		Do()
	if err != nil {
		return service.AnnotationResult{Error: fmt.Sprintf("find device %s: %v", assetTag, err)}
	}
	if len(res.Chromeosdevices) == 0 {
		return service.AnnotationResult{Error: fmt.Sprintf("device not found: %s", assetTag)}
	}
	if len(res.Chromeosdevices) > 1 {
		return service.AnnotationResult{Error: fmt.Sprintf("asset tag %s matches %d devices", assetTag, len(res.Chromeosdevices))}
	}

	device := res.Chromeosdevices[0]
	_, err = c.svc.Chromeosdevices.Patch(c.customer, device.DeviceId, &admin.ChromeOsDevice{Notes: text}).
		Context(ctx).
		Do()
	if err != nil {
		return service.AnnotationResult{Error: fmt.Sprintf("update notes of %s: %v", assetTag, err)}
	}
	logger.Debug("Device notes updated", "asset_tag", assetTag, "device_id", device.DeviceId, "previous_notes", device.Notes)
	return service.AnnotationResult{Success: true}
}
