package domain

import "time"

// DayLayout / DayHourLayout 是目录命名使用的固定宽度时间格式。
const (
	DayLayout     = "20060102"
	DayHourLayout = "2006010215"
)

// ParseBucket 从文件夹名解析时间桶：前 8 位是日期（YYYYMMDD），
// 可选的后 2 位是小时（HH）。返回 (时间, 是否带小时, 是否成功)。
//
// 解析失败返回 ok=false，不使用 error 做控制流（桶名不合法是常态，
// 例如摄像头目录里混入的非日期文件夹）。
func ParseBucket(name string) (t time.Time, hasHour bool, ok bool) {
	switch len(name) {
	case len(DayLayout):
		if !isDigits(name) {
			return time.Time{}, false, false
		}
		t, err := time.ParseInLocation(DayLayout, name, time.Local)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, false, true
	case len(DayHourLayout):
		if !isDigits(name) {
			return time.Time{}, false, false
		}
		t, err := time.ParseInLocation(DayHourLayout, name, time.Local)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, true, true
	default:
		return time.Time{}, false, false
	}
}

// IsHourFolder 判断 name 是否是合法的 10 位小时文件夹名。
func IsHourFolder(name string) bool {
	_, hasHour, ok := ParseBucket(name)
	return ok && hasHour
}

// DayOf 返回 10 位小时文件夹名的 8 位日期前缀；非法输入返回空串。
func DayOf(hourFolder string) string {
	if !IsHourFolder(hourFolder) {
		return ""
	}
	return hourFolder[:len(DayLayout)]
}

// HourOf 返回 10 位小时文件夹名的 2 位小时后缀；非法输入返回空串。
func HourOf(hourFolder string) string {
	if !IsHourFolder(hourFolder) {
		return ""
	}
	return hourFolder[len(DayLayout):]
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
