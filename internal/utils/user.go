package utils

import (
	"hash/fnv"
	"strings"
)

var userColors = []string{
	"#ef4444", "#f97316", "#f59e0b", "#84cc16", "#10b981", "#14b8a6",
	"#0ea5e9", "#6366f1", "#8b5cf6", "#d946ef", "#ec4899", "#64748b",
}

// UserColor 返回用户的显示颜色，未设置时按用户名稳定地分配一个
func UserColor(username, color string) string {
	if color != "" {
		return color
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(username)))
	return userColors[h.Sum32()%uint32(len(userColors))]
}
