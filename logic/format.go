package logic

import "fmt"

// FormatAssignmentShort renders the compact "{target} {operator} {value}"
// form of an assignment. The live editor preview and the canvas summary both
// call this function, so the two renderings stay byte-for-byte identical.
func FormatAssignmentShort(a Assignment) string {
	switch a.Operator {
	case OpAdd:
		return fmt.Sprintf("%s += %s", a.Target, a.Value)
	case OpSubtract:
		return fmt.Sprintf("%s -= %s", a.Target, a.Value)
	case OpSetTrue:
		return fmt.Sprintf("%s = true", a.Target)
	case OpSetFalse:
		return fmt.Sprintf("%s = false", a.Target)
	case OpToggle:
		return fmt.Sprintf("%s = !%s", a.Target, a.Target)
	case OpClear:
		return fmt.Sprintf("%s = \"\"", a.Target)
	default:
		return fmt.Sprintf("%s = %s", a.Target, a.Value)
	}
}
