package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonColumn implements the GORM Scanner/Valuer pair so a Go value can
// be stored as a single JSON column. MySQL has no native array/map
// type, so every structured field in the data model (§3) round-trips
// through JSON the way gorm.io/driver/mysql users commonly do for
// ad-hoc structured columns.
type jsonColumn[T any] struct {
	Value T
}

func (j *jsonColumn[T]) Scan(src any) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type %T for json column", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &j.Value)
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Value)
}

// JSONMap is a free-form JSON object column (InventoryResource
// attributes, RestoreJob plan/result, RestoreStep detail).
type JSONMap map[string]any

func (m *JSONMap) Scan(src any) error {
	col := jsonColumn[JSONMap]{Value: *m}
	if err := col.Scan(src); err != nil {
		return err
	}
	*m = col.Value
	return nil
}

func (m JSONMap) Value() (driver.Value, error) {
	return jsonColumn[JSONMap]{Value: m}.Value()
}

// StringList is a JSON array of strings (PolicySet.Policies,
// RestoreJob.SecurityGroupIDs).
type StringList []string

func (l *StringList) Scan(src any) error {
	col := jsonColumn[StringList]{Value: *l}
	if err := col.Scan(src); err != nil {
		return err
	}
	*l = col.Value
	return nil
}

func (l StringList) Value() (driver.Value, error) {
	return jsonColumn[StringList]{Value: l}.Value()
}

// StringMap is a JSON object of string->string (RestoreJob.ManualIPs).
type StringMap map[string]string

func (m *StringMap) Scan(src any) error {
	col := jsonColumn[StringMap]{Value: *m}
	if err := col.Scan(src); err != nil {
		return err
	}
	*m = col.Value
	return nil
}

func (m StringMap) Value() (driver.Value, error) {
	return jsonColumn[StringMap]{Value: m}.Value()
}

// IntMap is a JSON object of string->int (PolicySet.RetentionMap).
type IntMap map[string]int

func (m *IntMap) Scan(src any) error {
	col := jsonColumn[IntMap]{Value: *m}
	if err := col.Scan(src); err != nil {
		return err
	}
	*m = col.Value
	return nil
}

func (m IntMap) Value() (driver.Value, error) {
	return jsonColumn[IntMap]{Value: m}.Value()
}

// StepProgressList is a JSON array of StepProgressEntry
// (OnDemandTrigger.StepProgress).
type StepProgressList []StepProgressEntry

func (l *StepProgressList) Scan(src any) error {
	col := jsonColumn[StepProgressList]{Value: *l}
	if err := col.Scan(src); err != nil {
		return err
	}
	*l = col.Value
	return nil
}

func (l StepProgressList) Value() (driver.Value, error) {
	return jsonColumn[StepProgressList]{Value: l}.Value()
}
