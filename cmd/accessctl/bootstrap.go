package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/permission"
)

// Document is a declarative set of grants applied by `accessctl apply`.
type Document struct {
	Tenants []TenantDoc `yaml:"tenants"`
}

// TenantDoc lists the default and per-user grants of one tenant.
type TenantDoc struct {
	ID       string    `yaml:"id"`
	Defaults []string  `yaml:"defaults"`
	Users    []UserDoc `yaml:"users"`
}

// UserDoc lists a user's grants at every layer.
type UserDoc struct {
	ID           string              `yaml:"id"`
	Permissions  []string            `yaml:"permissions"`
	ContentTypes map[string][]string `yaml:"content_types"`
	Resources    []ResourceDoc       `yaml:"resources"`
}

// ResourceDoc is a grant on one resource.
type ResourceDoc struct {
	Type        string   `yaml:"type"`
	ID          string   `yaml:"id"`
	Permissions []string `yaml:"permissions"`
}

type step struct {
	desc  string
	apply func(ctx context.Context, svc *access.Service) error
}

// ApplyResult counts the writes performed by Apply.
type ApplyResult struct {
	Writes int
}

// ParseDocument decodes a YAML grant document, rejecting unknown keys.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, fmt.Errorf("decode grants document: %w", err)
	}
	return &doc, nil
}

// plan validates every permission name up front so a bad document writes nothing.
func (d *Document) plan() ([]step, error) {
	var steps []step
	for _, t := range d.Tenants {
		tenantID := strings.TrimSpace(t.ID)
		if t.Defaults != nil {
			perms, err := access.ParsePermissions(t.Defaults)
			if err != nil {
				return nil, fmt.Errorf("tenant %s defaults: %w", tenantID, err)
			}
			steps = append(steps, step{
				desc: fmt.Sprintf("tenant %s defaults %v", tenantID, permission.Names(perms)),
				apply: func(ctx context.Context, svc *access.Service) error {
					_, err := svc.SetTenantDefaultPermissions(ctx, tenantID, perms)
					return err
				},
			})
		}
		for _, u := range t.Users {
			userID := strings.TrimSpace(u.ID)
			if len(u.Permissions) > 0 {
				perms, err := access.ParsePermissions(u.Permissions)
				if err != nil {
					return nil, fmt.Errorf("tenant %s user %s: %w", tenantID, userID, err)
				}
				steps = append(steps, step{
					desc: fmt.Sprintf("tenant %s user %s %v", tenantID, userID, permission.Names(perms)),
					apply: func(ctx context.Context, svc *access.Service) error {
						_, err := svc.GrantTenantPermission(ctx, userID, tenantID, perms)
						return err
					},
				})
			}
			contentTypes := make([]string, 0, len(u.ContentTypes))
			for ct := range u.ContentTypes {
				contentTypes = append(contentTypes, ct)
			}
			sort.Strings(contentTypes)
			for _, contentType := range contentTypes {
				perms, err := access.ParsePermissions(u.ContentTypes[contentType])
				if err != nil {
					return nil, fmt.Errorf("tenant %s user %s content type %s: %w", tenantID, userID, contentType, err)
				}
				steps = append(steps, step{
					desc: fmt.Sprintf("tenant %s user %s content type %s %v", tenantID, userID, contentType, permission.Names(perms)),
					apply: func(ctx context.Context, svc *access.Service) error {
						_, err := svc.GrantContentTypePermission(ctx, userID, tenantID, contentType, perms)
						return err
					},
				})
			}
			for _, r := range u.Resources {
				perms, err := access.ParsePermissions(r.Permissions)
				if err != nil {
					return nil, fmt.Errorf("tenant %s user %s resource %s/%s: %w", tenantID, userID, r.Type, r.ID, err)
				}
				res := access.Resource{Type: r.Type, ID: r.ID}
				steps = append(steps, step{
					desc: fmt.Sprintf("tenant %s user %s resource %s/%s %v", tenantID, userID, r.Type, r.ID, permission.Names(perms)),
					apply: func(ctx context.Context, svc *access.Service) error {
						_, err := svc.GrantResourcePermission(ctx, userID, tenantID, res, perms)
						return err
					},
				})
			}
		}
	}
	return steps, nil
}

// Apply writes every grant in the document. Grants are unions, so applying the same
// document twice leaves the store unchanged.
func Apply(ctx context.Context, svc *access.Service, doc *Document, out io.Writer) (ApplyResult, error) {
	steps, err := doc.plan()
	if err != nil {
		return ApplyResult{}, err
	}
	var res ApplyResult
	for _, s := range steps {
		if err := s.apply(ctx, svc); err != nil {
			return res, fmt.Errorf("%s: %w", s.desc, err)
		}
		res.Writes++
		if out != nil {
			fmt.Fprintln(out, "applied", s.desc)
		}
	}
	return res, nil
}
