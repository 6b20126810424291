package gormrepos

import (
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gorm.io/gorm/schema"

	"github.com/trezcool/backoffice/core/crud"
)

// Property types
const (
	typeBoolean  = "boolean"
	typeNumber   = "number"
	typeDecimal  = "decimal"
	typeString   = "string"
	typeDatetime = "datetime"
	typeArray    = "array"
	typeBinary   = "binary"
)

func jsonName(fld *schema.Field) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fld.DBName
	}
	return name
}

func propertyType(fld *schema.Field) string {
	if fld.IndirectFieldType == decimalType {
		return typeDecimal
	}
	switch fld.IndirectFieldType.Kind() {
	case reflect.Slice, reflect.Array:
		if fld.IndirectFieldType.Elem().Kind() == reflect.Uint8 {
			return typeBinary
		}
		return typeArray
	}
	switch fld.DataType {
	case schema.Bool:
		return typeBoolean
	case schema.Int, schema.Uint, schema.Float:
		return typeNumber
	case schema.String:
		return typeString
	case schema.Time:
		return typeDatetime
	case schema.Bytes:
		return typeBinary
	}
	dt := strings.ToLower(string(fld.DataType))
	switch {
	case strings.HasPrefix(dt, "numeric"), strings.HasPrefix(dt, "decimal"):
		return typeDecimal
	case dt == "text", strings.Contains(dt, "char"):
		return typeString
	}
	return typeString
}

func filterable(fld *schema.Field) bool {
	typ := propertyType(fld)
	return typ != typeArray && typ != typeBinary
}

func searchable(fld *schema.Field) bool {
	return propertyType(fld) == typeString
}

// label humanizes a json name: "content_manager_id" is "Content manager".
func label(name string, isRef bool) string {
	if isRef {
		name = strings.TrimSuffix(name, "_id")
	}
	name = strings.ReplaceAll(name, "_", " ")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func property(name string, fld *schema.Field) crud.Property {
	ref := fld.Tag.Get("ref")
	return crud.Property{
		Name:       name,
		Label:      label(name, ref != ""),
		Type:       propertyType(fld),
		Ref:        ref,
		Filterable: filterable(fld),
		Searchable: searchable(fld),
		Sortable:   filterable(fld),
		ReadOnly:   readOnlyColumns[fld.DBName],
	}
}

// coerce converts a JSON decoded filter value to the Go type of the column.
func coerce(fld *schema.Field, val interface{}) (interface{}, error) {
	if val == nil {
		return nil, nil
	}
	switch propertyType(fld) {
	case typeBoolean:
		return cast.ToBoolE(val)
	case typeNumber:
		if fld.DataType == schema.Float {
			return cast.ToFloat64E(val)
		}
		return cast.ToInt64E(val)
	case typeDecimal:
		s, err := cast.ToStringE(val)
		if err != nil {
			return nil, err
		}
		return decimal.NewFromString(s)
	case typeDatetime:
		t, err := cast.ToTimeE(val)
		return t.UTC(), err
	}
	return cast.ToStringE(val)
}
