package utils

import "github.com/google/uuid"

// GenID returns a new message id.
func GenID() string { return "m_" + uuid.NewString() }

// GenToken returns a new correlation token for an optimistic send.
func GenToken() string { return "c_" + uuid.NewString() }
