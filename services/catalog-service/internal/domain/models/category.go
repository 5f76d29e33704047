package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// LocalizedText текст на русском и украинском
type LocalizedText struct {
	RU string `json:"ru"`
	UK string `json:"uk"`
}

// UnmarshalJSON принимает как объект {"ru","uk"}, так и просто строку.
// Строка записывается в оба языка.
func (t *LocalizedText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = LocalizedText{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = LocalizedText{RU: s, UK: s}
		return nil
	}

	type plain LocalizedText
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = LocalizedText(p)
	return nil
}

// Default возвращает русский вариант, если он есть, иначе украинский
func (t LocalizedText) Default() string {
	if strings.TrimSpace(t.RU) != "" {
		return t.RU
	}
	return t.UK
}

func (t LocalizedText) IsEmpty() bool {
	return strings.TrimSpace(t.RU) == "" && strings.TrimSpace(t.UK) == ""
}

// Variants возвращает непустые варианты названия без повторов
func (t LocalizedText) Variants() []string {
	var out []string
	for _, v := range []string{t.RU, t.UK} {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if len(out) > 0 && out[0] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SupplierCategory категория из фида поставщика
type SupplierCategory struct {
	ID         string        `json:"id"`
	SupplierID string        `json:"supplier_id"`
	ExternalID string        `json:"external_id"`
	Name       LocalizedText `json:"name"`
	ParentID   *string       `json:"parent_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// CategoryInput категория в том виде, в каком она пришла в фиде
type CategoryInput struct {
	ExternalID       string        `json:"external_id"`
	Name             LocalizedText `json:"name"`
	ParentExternalID string        `json:"parent_ref,omitempty"`
}

// InternalCategory категория внутреннего классификатора
type InternalCategory struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	NameUK      string    `json:"name_uk,omitempty"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	ParentID    *string   `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WithNames переводит категорию в запись пула для сопоставления
func (c InternalCategory) WithNames() CategoryWithNames {
	return CategoryWithNames{
		ID:    c.ID,
		Names: LocalizedText{RU: c.Name, UK: c.NameUK}.Variants(),
	}
}

// CategoryWithNames категория со всеми вариантами названия
type CategoryWithNames struct {
	ID    string   `json:"id"`
	Names []string `json:"names"`
}

// CategoryMapping связь категории поставщика с внутренней категорией
type CategoryMapping struct {
	SupplierCategoryID string    `json:"supplier_category_id"`
	InternalCategoryID string    `json:"internal_category_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// Brand бренд поставщика
type Brand struct {
	ID          string    `json:"id"`
	SupplierID  string    `json:"supplier_id"`
	ExternalRef string    `json:"external_ref"`
	Name        string    `json:"name"`
	LogoURL     string    `json:"logo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StringPtr вспомогательная функция для nullable полей
func StringPtr(s string) *string {
	return &s
}
