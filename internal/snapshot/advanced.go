package snapshot

import (
	"fmt"
	"strconv"

	"github.com/vmware/govmomi/vim25/types"
)

// Syslog-related host options are carried in the syslog facet, not in the
// generic advanced-settings list.
const (
	SyslogLogHostKey = "Syslog.global.logHost"
	SyslogLogDirKey  = "Syslog.global.logDir"
)

const (
	settingTypeString = "string"
	settingTypeBool   = "bool"
	settingTypeInt    = "int"
	settingTypeLong   = "long"
	settingTypeFloat  = "float"
	settingTypeDouble = "double"
)

// FormatSettingValue stringifies a host option value together with its wire
// type. Unknown value shapes are rejected rather than silently defaulted.
func FormatSettingValue(v types.AnyType) (value, kind string, ok bool) {
	switch t := v.(type) {
	case string:
		return t, settingTypeString, true
	case bool:
		return strconv.FormatBool(t), settingTypeBool, true
	case int32:
		return strconv.FormatInt(int64(t), 10), settingTypeInt, true
	case int64:
		return strconv.FormatInt(t, 10), settingTypeLong, true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), settingTypeFloat, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), settingTypeDouble, true
	default:
		return "", "", false
	}
}

// TypedValue rebuilds the typed option value recorded at capture time.
func (s AdvancedSetting) TypedValue() (types.AnyType, error) {
	switch s.Type {
	case settingTypeString:
		return s.Value, nil
	case settingTypeBool:
		v, err := strconv.ParseBool(s.Value)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", s.Key, err)
		}
		return v, nil
	case settingTypeInt:
		v, err := strconv.ParseInt(s.Value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", s.Key, err)
		}
		return int32(v), nil
	case settingTypeLong:
		v, err := strconv.ParseInt(s.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", s.Key, err)
		}
		return v, nil
	case settingTypeFloat:
		v, err := strconv.ParseFloat(s.Value, 32)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", s.Key, err)
		}
		return float32(v), nil
	case settingTypeDouble:
		v, err := strconv.ParseFloat(s.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", s.Key, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("setting %s: unknown type %q", s.Key, s.Type)
	}
}
