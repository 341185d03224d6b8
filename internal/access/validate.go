package access

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"qazna.org/access/internal/permission"
)

const (
	maxIDLength   = 255
	maxNameLength = 128
)

// IDValidator checks a user or tenant identifier supplied by a caller.
type IDValidator func(id string) error

// DefaultIDValidator accepts any non-empty identifier without whitespace or control
// characters up to 255 bytes.
func DefaultIDValidator(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d bytes", ErrInvalidInput, maxIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: id %q contains whitespace or control characters", ErrInvalidInput, id)
		}
	}
	return nil
}

// UUIDValidator requires identifiers to be canonical UUIDs.
func UUIDValidator(id string) error {
	if err := DefaultIDValidator(id); err != nil {
		return err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", ErrInvalidInput, id)
	}
	if parsed.String() != strings.ToLower(id) {
		return fmt.Errorf("%w: id %q is not in canonical UUID form", ErrInvalidInput, id)
	}
	return nil
}

// validateTypeName checks content type and resource type names: a letter followed by
// letters, digits, '_', '-' or '.'.
func validateTypeName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, kind)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, kind, maxNameLength)
	}
	for i, r := range name {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '_' || r == '-' || r == '.'):
		default:
			return fmt.Errorf("%w: %s %q has invalid characters", ErrInvalidInput, kind, name)
		}
	}
	return nil
}

// flagsOf validates a permission list and encodes it.
func flagsOf(perms []permission.Type, allowEmpty bool) (permission.FlagSet, error) {
	if len(perms) == 0 && !allowEmpty {
		return permission.Empty, fmt.Errorf("%w: at least one permission is required", ErrInvalidInput)
	}
	var flags permission.FlagSet
	for _, p := range perms {
		if !p.Valid() {
			return permission.Empty, fmt.Errorf("%w: %s", ErrInvalidInput, p)
		}
		flags.Set(p)
	}
	return flags, nil
}

// ParsePermissions validates external permission names against the enumeration and
// converts them. Unknown names fail the whole list.
func ParsePermissions(names []string) ([]permission.Type, error) {
	types, err := permission.ParseAll(names)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return types, nil
}

func (s *Service) checkIDs(ids ...string) error {
	for _, id := range ids {
		if err := s.validID(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkResource(res Resource) (Resource, error) {
	res.Type = strings.TrimSpace(res.Type)
	res.ID = strings.TrimSpace(res.ID)
	if err := validateTypeName("resource type", res.Type); err != nil {
		return Resource{}, err
	}
	if err := DefaultIDValidator(res.ID); err != nil {
		return Resource{}, fmt.Errorf("resource id: %w", err)
	}
	return res, nil
}

func (s *Service) tenantKey(userID, tenantID string) (TenantKey, error) {
	key := TenantKey{UserID: strings.TrimSpace(userID), TenantID: strings.TrimSpace(tenantID)}
	if err := s.checkIDs(key.UserID, key.TenantID); err != nil {
		return TenantKey{}, err
	}
	return key, nil
}
