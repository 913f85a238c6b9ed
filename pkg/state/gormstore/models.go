package gormstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/state"
)

// overrideRecord is one version of an override slot. The unique index on
// (slot, version) rejects concurrent writers that computed the same version.
type overrideRecord struct {
	ID             string         `gorm:"column:id;type:varchar(36);primaryKey"`
	EntityType     string         `gorm:"column:entity_type;type:varchar(32);not null;uniqueIndex:idx_parameter_values_slot_version,priority:1"`
	EntityID       string         `gorm:"column:entity_id;type:varchar(128);not null;uniqueIndex:idx_parameter_values_slot_version,priority:2"`
	ParameterName  string         `gorm:"column:parameter_name;type:varchar(128);not null;uniqueIndex:idx_parameter_values_slot_version,priority:3"`
	Version        int            `gorm:"column:version;not null;uniqueIndex:idx_parameter_values_slot_version,priority:4"`
	DataType       string         `gorm:"column:data_type;type:varchar(16);not null"`
	Value          datatypes.JSON `gorm:"column:value;not null"`
	EffectiveDate  time.Time      `gorm:"column:effective_date;not null"`
	ExpirationDate *time.Time     `gorm:"column:expiration_date"`
	State          string         `gorm:"column:state;type:varchar(16);not null;index"`
	CreatedBy      string         `gorm:"column:created_by;type:varchar(128)"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (overrideRecord) TableName() string {
	return "parameter_values"
}

type definitionRecord struct {
	Name            string                                     `gorm:"column:name;type:varchar(128);primaryKey"`
	Description     string                                     `gorm:"column:description;type:text"`
	DataType        string                                     `gorm:"column:data_type;type:varchar(16);not null"`
	DefaultValue    datatypes.JSON                             `gorm:"column:default_value;not null"`
	ValidationRules datatypes.JSONSlice[params.ValidationRule] `gorm:"column:validation_rules"`
	Overridable     bool                                       `gorm:"column:overridable;not null"`
	Category        string                                     `gorm:"column:category;type:varchar(64)"`
	Sensitivity     string                                     `gorm:"column:sensitivity;type:varchar(16)"`
	AuditRequired   bool                                       `gorm:"column:audit_required;not null"`
	CreatedAt       time.Time                                  `gorm:"column:created_at"`
	UpdatedAt       time.Time                                  `gorm:"column:updated_at"`
}

func (definitionRecord) TableName() string {
	return "parameter_definitions"
}

type merchantRecord struct {
	ID             string                                `gorm:"column:id;type:varchar(128);primaryKey"`
	Name           string                                `gorm:"column:name;type:varchar(255)"`
	OrganizationID string                                `gorm:"column:organization_id;type:varchar(128);index"`
	ProgramID      string                                `gorm:"column:program_id;type:varchar(128);index"`
	BankID         string                                `gorm:"column:bank_id;type:varchar(128);index"`
	Metadata       datatypes.JSONType[map[string]string] `gorm:"column:metadata"`
	CreatedAt      time.Time                             `gorm:"column:created_at"`
	UpdatedAt      time.Time                             `gorm:"column:updated_at"`
}

func (merchantRecord) TableName() string {
	return "merchants"
}

func encodeValue(value params.Value) (datatypes.JSON, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("gormstore: encode value: %w", err)
	}
	return datatypes.JSON(payload), nil
}

// decodeValue restores the tag recorded in the data type column. DECIMAL is
// parsed straight from the JSON literal so no precision goes through float64.
func decodeValue(dataType string, payload datatypes.JSON) (params.Value, error) {
	kind, ok := params.ParseDataType(dataType)
	if !ok {
		return params.Value{}, fmt.Errorf("gormstore: unknown data type %q", dataType)
	}
	if kind == params.DataTypeDecimal {
		d, err := decimal.NewFromString(string(bytes.Trim(bytes.TrimSpace(payload), `"`)))
		if err != nil {
			return params.Value{}, fmt.Errorf("gormstore: decode decimal: %w", err)
		}
		return params.DecimalValue(d), nil
	}
	var value params.Value
	if err := json.Unmarshal(payload, &value); err != nil {
		return params.Value{}, fmt.Errorf("gormstore: decode value: %w", err)
	}
	return value.Coerce(kind)
}

func (r overrideRecord) toParameterValue() (params.ParameterValue, error) {
	value, err := decodeValue(r.DataType, r.Value)
	if err != nil {
		return params.ParameterValue{}, err
	}
	return params.ParameterValue{
		ID:             r.ID,
		EntityType:     params.EntityType(r.EntityType),
		EntityID:       r.EntityID,
		ParameterName:  r.ParameterName,
		Value:          value,
		EffectiveDate:  r.EffectiveDate,
		ExpirationDate: r.ExpirationDate,
		Overridden:     true,
		Version:        r.Version,
		State:          params.RecordState(r.State),
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func toParameterValues(records []overrideRecord) ([]params.ParameterValue, error) {
	out := make([]params.ParameterValue, 0, len(records))
	for _, record := range records {
		value, err := record.toParameterValue()
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

func newDefinitionRecord(def params.ParameterDefinition) (definitionRecord, error) {
	payload, err := encodeValue(def.DefaultValue)
	if err != nil {
		return definitionRecord{}, err
	}
	return definitionRecord{
		Name:            def.Name,
		Description:     def.Description,
		DataType:        string(def.DataType),
		DefaultValue:    payload,
		ValidationRules: datatypes.JSONSlice[params.ValidationRule](def.Clone().ValidationRules),
		Overridable:     def.Overridable,
		Category:        def.Category,
		Sensitivity:     string(def.Sensitivity),
		AuditRequired:   def.AuditRequired,
		CreatedAt:       def.CreatedAt,
		UpdatedAt:       def.UpdatedAt,
	}, nil
}

func (r definitionRecord) toDefinition() (params.ParameterDefinition, error) {
	value, err := decodeValue(r.DataType, r.DefaultValue)
	if err != nil {
		return params.ParameterDefinition{}, fmt.Errorf("gormstore: definition %q: %w", r.Name, err)
	}
	var rules []params.ValidationRule
	if len(r.ValidationRules) > 0 {
		rules = append(rules, r.ValidationRules...)
	}
	return params.ParameterDefinition{
		Name:            r.Name,
		Description:     r.Description,
		DataType:        params.DataType(r.DataType),
		DefaultValue:    value,
		ValidationRules: rules,
		Overridable:     r.Overridable,
		Category:        r.Category,
		Sensitivity:     params.Sensitivity(r.Sensitivity),
		AuditRequired:   r.AuditRequired,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func newMerchantRecord(m state.Merchant) merchantRecord {
	return merchantRecord{
		ID:             m.ID,
		Name:           m.Name,
		OrganizationID: m.OrganizationID,
		ProgramID:      m.ProgramID,
		BankID:         m.BankID,
		Metadata:       datatypes.NewJSONType(m.Metadata),
	}
}

func (r merchantRecord) toMerchant() state.Merchant {
	return state.Merchant{
		ID:             r.ID,
		Name:           r.Name,
		OrganizationID: r.OrganizationID,
		ProgramID:      r.ProgramID,
		BankID:         r.BankID,
		Metadata:       r.Metadata.Data(),
	}
}
