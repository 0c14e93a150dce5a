package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict — запись изменена другим процессом (версия не совпала).
	ErrConflict = errors.New("version conflict")

	// ErrLockNotAcquired — блокировка занята другим процессом.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
