package model

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// CustomFieldsKey is the metaInfo key holding field provenance.
const CustomFieldsKey = "_customFields"

// FieldAuthor records who added a field.
type FieldAuthor string

const (
	AddedByAI   FieldAuthor = "ai"
	AddedByUser FieldAuthor = "user"
)

// FieldType is the declared type of a custom field.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeURL     FieldType = "url"
	FieldTypeList    FieldType = "list"
	FieldTypeObject  FieldType = "object"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeBoolean, FieldTypeURL, FieldTypeList, FieldTypeObject:
		return true
	}
	return false
}

// CustomField is the provenance entry of one metaInfo key. The JSON layout
// is the one stored inside metaInfo.
type CustomField struct {
	Key       string      `json:"key"`
	Label     string      `json:"label"`
	Type      FieldType   `json:"type"`
	AddedBy   FieldAuthor `json:"addedBy"`
	AddedAt   time.Time   `json:"addedAt"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
}

var fieldKeyPattern = regexp.MustCompile(`^[a-z0-9_]{1,50}$`)

var (
	ErrInvalidFieldKey     = resilience.NewError(resilience.KindValidation, "custom field", eris.New("field key must match ^[a-z0-9_]{1,50}$"))
	ErrInvalidFieldType    = resilience.NewError(resilience.KindValidation, "custom field", eris.New("unknown field type"))
	ErrFieldExists         = resilience.NewError(resilience.KindValidation, "custom field", eris.New("field already exists"))
	ErrFieldNotFound       = resilience.NewError(resilience.KindNotFound, "custom field", eris.New("field not found"))
	ErrCannotRemoveAIField = resilience.NewError(resilience.KindValidation, "custom field", eris.New("cannot remove AI-discovered field"))
)

// ValidateFieldKey checks key against the allowed pattern. The reserved
// provenance key never matches it.
func ValidateFieldKey(key string) error {
	if !fieldKeyPattern.MatchString(key) {
		return eris.Wrapf(ErrInvalidFieldKey, "key %q", key)
	}
	return nil
}

// CustomFields decodes the provenance entries stored in meta.
func CustomFields(meta map[string]any) ([]CustomField, error) {
	raw, ok := meta[CustomFieldsKey]
	if !ok || raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, eris.Wrap(err, "custom fields: encode")
	}
	var fields []CustomField
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, eris.Wrap(err, "custom fields: decode")
	}
	return fields, nil
}

// SetCustomFields stores fields in meta as plain JSON values.
func SetCustomFields(meta map[string]any, fields []CustomField) error {
	if len(fields) == 0 {
		delete(meta, CustomFieldsKey)
		return nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "custom fields: encode")
	}
	var v []any
	if err := json.Unmarshal(b, &v); err != nil {
		return eris.Wrap(err, "custom fields: decode")
	}
	meta[CustomFieldsKey] = v
	return nil
}

func findField(fields []CustomField, key string) int {
	for i, f := range fields {
		if f.Key == key {
			return i
		}
	}
	return -1
}

// AddCustomField adds a user field. The key must be valid and not present
// in metaInfo or its provenance.
func (o *Offering) AddCustomField(key string, value any, typ FieldType, label string, now time.Time) error {
	if err := ValidateFieldKey(key); err != nil {
		return err
	}
	if !typ.Valid() {
		return eris.Wrapf(ErrInvalidFieldType, "type %q", typ)
	}
	if err := ValidateValue(value); err != nil {
		return err
	}

	fields, err := CustomFields(o.MetaInfo)
	if err != nil {
		return err
	}
	if _, ok := o.MetaInfo[key]; ok || findField(fields, key) >= 0 {
		return eris.Wrapf(ErrFieldExists, "key %q", key)
	}

	if label == "" {
		label = key
	}
	if o.MetaInfo == nil {
		o.MetaInfo = map[string]any{}
	}
	o.MetaInfo[key] = value
	fields = append(fields, CustomField{
		Key:     key,
		Label:   label,
		Type:    typ,
		AddedBy: AddedByUser,
		AddedAt: now.UTC(),
	})
	return SetCustomFields(o.MetaInfo, fields)
}

// UpdateCustomField replaces the value of an existing field and stamps its
// provenance. A key found only in metaInfo came from extraction and gets an
// AI provenance entry.
func (o *Offering) UpdateCustomField(key string, value any, now time.Time) error {
	if key == CustomFieldsKey {
		return eris.Wrapf(ErrInvalidFieldKey, "key %q", key)
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	fields, err := CustomFields(o.MetaInfo)
	if err != nil {
		return err
	}
	_, inMeta := o.MetaInfo[key]
	idx := findField(fields, key)
	if !inMeta && idx < 0 {
		return eris.Wrapf(ErrFieldNotFound, "key %q", key)
	}

	ts := now.UTC()
	if idx < 0 {
		fields = append(fields, CustomField{
			Key:     key,
			Label:   key,
			Type:    inferFieldType(value),
			AddedBy: AddedByAI,
			AddedAt: ts,
		})
		idx = len(fields) - 1
	}
	fields[idx].UpdatedAt = &ts

	o.MetaInfo[key] = value
	return SetCustomFields(o.MetaInfo, fields)
}

// RemoveCustomField deletes a user field and its provenance. Fields added by
// extraction, with or without a provenance entry, are refused.
func (o *Offering) RemoveCustomField(key string) error {
	if key == CustomFieldsKey {
		return eris.Wrapf(ErrInvalidFieldKey, "key %q", key)
	}
	fields, err := CustomFields(o.MetaInfo)
	if err != nil {
		return err
	}
	_, inMeta := o.MetaInfo[key]
	idx := findField(fields, key)
	switch {
	case !inMeta && idx < 0:
		return eris.Wrapf(ErrFieldNotFound, "key %q", key)
	case idx < 0 || fields[idx].AddedBy != AddedByUser:
		return eris.Wrapf(ErrCannotRemoveAIField, "key %q", key)
	}

	delete(o.MetaInfo, key)
	fields = append(fields[:idx], fields[idx+1:]...)
	return SetCustomFields(o.MetaInfo, fields)
}

// NormalizeFieldKey maps an extracted attribute name onto the field key
// pattern: lowercased, diacritics folded ("Süre" becomes "sure"), runs of
// other characters collapsed to one underscore, cut to 50 bytes. It returns
// "" when nothing usable is left.
func NormalizeFieldKey(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range norm.NFD.String(strings.ToLower(strings.TrimSpace(name))) {
		if r == 'ı' {
			r = 'i'
		}
		switch {
		case unicode.Is(unicode.Mn, r):
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	key := strings.TrimRight(b.String(), "_")
	if len(key) > 50 {
		key = strings.TrimRight(key[:50], "_")
	}
	return key
}

// SeedAIFields normalizes extracted metaInfo keys and records AI provenance
// for every key that has none. Invalid values and keys that normalize to
// nothing are dropped. Existing provenance is kept.
func (o *Offering) SeedAIFields(now time.Time) error {
	if len(o.MetaInfo) == 0 {
		return nil
	}
	fields, err := CustomFields(o.MetaInfo)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(o.MetaInfo))
	for k := range o.MetaInfo {
		if k != CustomFieldsKey {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	meta := make(map[string]any, len(names)+1)
	for _, name := range names {
		v := o.MetaInfo[name]
		key := NormalizeFieldKey(name)
		if key == "" || ValidateValue(v) != nil {
			continue
		}
		if _, dup := meta[key]; dup {
			continue
		}
		meta[key] = v
		if findField(fields, key) < 0 {
			fields = append(fields, CustomField{
				Key:     key,
				Label:   name,
				Type:    inferFieldType(v),
				AddedBy: AddedByAI,
				AddedAt: now.UTC(),
			})
		}
	}

	kept := fields[:0]
	for _, f := range fields {
		if _, ok := meta[f.Key]; ok {
			kept = append(kept, f)
		}
	}
	if len(meta) == 0 {
		o.MetaInfo = nil
		return nil
	}
	if err := SetCustomFields(meta, kept); err != nil {
		return err
	}
	o.MetaInfo = meta
	return nil
}

func inferFieldType(v any) FieldType {
	switch v.(type) {
	case bool:
		return FieldTypeBoolean
	case float64, float32, int, int64, json.Number:
		return FieldTypeNumber
	case []any:
		return FieldTypeList
	case map[string]any:
		return FieldTypeObject
	default:
		return FieldTypeText
	}
}
