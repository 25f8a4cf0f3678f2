package format

import "fmt"

const (
	Byte = 1

	KibiByte = Byte * 1024
	MebiByte = KibiByte * 1024
	GibiByte = MebiByte * 1024
	TebiByte = GibiByte * 1024
)

// HumanBytes2 formats b with binary units.
func HumanBytes2(b int64) string {
	switch {
	case b >= TebiByte:
		return fmt.Sprintf("%.2f TiB", float64(b)/TebiByte)
	case b >= GibiByte:
		return fmt.Sprintf("%.2f GiB", float64(b)/GibiByte)
	case b >= MebiByte:
		return fmt.Sprintf("%.2f MiB", float64(b)/MebiByte)
	case b >= KibiByte:
		return fmt.Sprintf("%.2f KiB", float64(b)/KibiByte)
	default:
		return fmt.Sprintf("%d B", b)
	}
}
