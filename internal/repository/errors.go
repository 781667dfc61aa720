package repository

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrAlreadyReconciled = errors.New("bank transaction already reconciled")
	ErrAlreadyLinked     = errors.New("invoice already linked to a payment")
)
