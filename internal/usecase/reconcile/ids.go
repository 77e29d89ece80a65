package reconcile

import (
	"fmt"
	"strings"
	"time"
)

const slugMaxLen = 15

// Slug приводит имя первой группы к фрагменту идентификатора: строчные
// латинские буквы и цифры, не длиннее maxLen.
func Slug(name string, maxLen int) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// CanonicalID детерминированно строит идентификатор концерта из префикса
// источника, даты и слага первой группы. Одинаковые (источник, дата, группа)
// дают одинаковый идентификатор в любом цикле скрейпа — на этом держится
// живучесть подписок.
func CanonicalID(prefix string, date time.Time, slug string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, date.Format("20060102"), slug)
}
