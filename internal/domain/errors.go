package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence оборачивает любую ошибку хранилища во время проверки или записи.
	// Вызывающий код должен трактовать ее как отказ в допуске (fail closed).
	ErrPersistence = errors.New("persistence error")

	// ErrStateConflict возвращается при попытке создать второй активный триггер
	// для того же типа предохранителя
	ErrStateConflict = errors.New("active trigger already exists")

	// ErrOperatorRequired возвращается когда reset вызван без operator_id
	ErrOperatorRequired = errors.New("operator_id is required")
)
