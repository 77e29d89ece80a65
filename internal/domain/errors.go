package domain

import "errors"

// ErrNotFound возвращается репозиториями при отсутствии записи.
var ErrNotFound = errors.New("запись не найдена")
