package model

import (
	"strings"
	"time"
)

// EntityKind identifies one of the CRUD resources exposed by the backend.
type EntityKind string

const (
	KindActivity       EntityKind = "attivita"
	KindCivilEntity    EntityKind = "enti_civili"
	KindMilitaryEntity EntityKind = "enti_militari"
	KindOperation      EntityKind = "operazioni"
)

// Kinds returns every entity kind.
func Kinds() []EntityKind {
	return []EntityKind{KindActivity, KindCivilEntity, KindMilitaryEntity, KindOperation}
}

// ParseKind accepts a kind in API form (enti_civili) or route form
// (enti-civili).
func ParseKind(s string) (EntityKind, bool) {
	k := EntityKind(strings.ReplaceAll(s, "-", "_"))
	for _, known := range Kinds() {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Label returns the human-readable name of the kind.
func (k EntityKind) Label() string {
	switch k {
	case KindActivity:
		return "activities"
	case KindCivilEntity:
		return "civilian entities"
	case KindMilitaryEntity:
		return "military entities"
	case KindOperation:
		return "operations"
	}
	return string(k)
}

// Route returns the page path that hosts the kind's list view.
func (k EntityKind) Route() string {
	return "/" + strings.ReplaceAll(string(k), "_", "-")
}

// APIPath returns the REST prefix for the kind, e.g. /api/enti_civili.
func (k EntityKind) APIPath() string {
	return "/api/" + string(k)
}

// Record is implemented by every entity type so views can search, filter and
// sort them without knowing the concrete type.
type Record interface {
	RecordID() string
	// SearchText is the lower-cased haystack matched by free-text search.
	SearchText() string
	// Field returns the string form of a named field, or "" if unknown.
	Field(name string) string
}

// Activity is a scheduled or completed activity carried out by an entity.
type Activity struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"titolo" yaml:"titolo"`
	Type        string    `json:"tipologia" yaml:"tipologia"`
	EntityID    string    `json:"ente_id" yaml:"ente_id"`
	EntityName  string    `json:"ente_nome" yaml:"ente_nome"`
	Character   string    `json:"carattere" yaml:"carattere"`
	OperationID string    `json:"operazione_id,omitempty" yaml:"operazione_id"`
	Status      string    `json:"stato" yaml:"stato"`
	Date        time.Time `json:"data" yaml:"data"`
	Notes       string    `json:"note,omitempty" yaml:"note"`
}

func (a Activity) RecordID() string { return a.ID }

func (a Activity) SearchText() string {
	return strings.ToLower(strings.Join([]string{a.Title, a.Type, a.EntityName, a.Status, a.Notes}, " "))
}

func (a Activity) Field(name string) string {
	switch name {
	case "id":
		return a.ID
	case "titolo":
		return a.Title
	case "tipologia":
		return a.Type
	case "ente_id":
		return a.EntityID
	case "ente_nome":
		return a.EntityName
	case "carattere":
		return a.Character
	case "operazione_id":
		return a.OperationID
	case "stato":
		return a.Status
	case "data":
		if a.Date.IsZero() {
			return ""
		}
		return a.Date.Format(time.DateOnly)
	}
	return ""
}

// CivilEntity is a piece of civilian infrastructure.
type CivilEntity struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"nome" yaml:"nome"`
	Type     string `json:"tipologia" yaml:"tipologia"`
	City     string `json:"citta" yaml:"citta"`
	Province string `json:"provincia" yaml:"provincia"`
	Address  string `json:"indirizzo,omitempty" yaml:"indirizzo"`
	Status   string `json:"stato" yaml:"stato"`
}

func (c CivilEntity) RecordID() string { return c.ID }

func (c CivilEntity) SearchText() string {
	return strings.ToLower(strings.Join([]string{c.Name, c.Type, c.City, c.Province, c.Address}, " "))
}

func (c CivilEntity) Field(name string) string {
	switch name {
	case "id":
		return c.ID
	case "nome":
		return c.Name
	case "tipologia":
		return c.Type
	case "citta":
		return c.City
	case "provincia":
		return c.Province
	case "stato":
		return c.Status
	}
	return ""
}

// MilitaryEntity is a military unit in the organisational tree.
type MilitaryEntity struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"nome" yaml:"nome"`
	Code     string `json:"codice" yaml:"codice"`
	Type     string `json:"tipologia" yaml:"tipologia"`
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id"`
	City     string `json:"citta" yaml:"citta"`
	Status   string `json:"stato" yaml:"stato"`
}

func (m MilitaryEntity) RecordID() string { return m.ID }

func (m MilitaryEntity) SearchText() string {
	return strings.ToLower(strings.Join([]string{m.Name, m.Code, m.Type, m.City}, " "))
}

func (m MilitaryEntity) Field(name string) string {
	switch name {
	case "id":
		return m.ID
	case "nome":
		return m.Name
	case "codice":
		return m.Code
	case "tipologia":
		return m.Type
	case "parent_id":
		return m.ParentID
	case "citta":
		return m.City
	case "stato":
		return m.Status
	}
	return ""
}

// Operation groups activities under a named operation.
type Operation struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"nome" yaml:"nome"`
	Code      string    `json:"codice" yaml:"codice"`
	Theatre   string    `json:"teatro" yaml:"teatro"`
	Status    string    `json:"stato" yaml:"stato"`
	StartDate time.Time `json:"data_inizio" yaml:"data_inizio"`
	EndDate   time.Time `json:"data_fine,omitempty" yaml:"data_fine"`
}

func (o Operation) RecordID() string { return o.ID }

func (o Operation) SearchText() string {
	return strings.ToLower(strings.Join([]string{o.Name, o.Code, o.Theatre, o.Status}, " "))
}

func (o Operation) Field(name string) string {
	switch name {
	case "id":
		return o.ID
	case "nome":
		return o.Name
	case "codice":
		return o.Code
	case "teatro":
		return o.Theatre
	case "stato":
		return o.Status
	case "data_inizio":
		if o.StartDate.IsZero() {
			return ""
		}
		return o.StartDate.Format(time.DateOnly)
	}
	return ""
}
