// Package secure provides memory-safe handling of sensitive data.
//
// Freshly generated secrets are sealed in memguard enclaves while the operator
// works through confirmation prompts, and are only opened at the moment a
// store write needs them:
//
//	pending := secure.NewPending()
//	defer pending.Destroy()
//
//	if err := pending.Put("password", value); err != nil {
//	    return err
//	}
//	...
//	plain, err := pending.Reveal("password")
//
// Enclaves are encrypted at rest (XSalsa20Poly1305) and memguard attempts to
// mlock the backing pages. If mlock is unavailable the data is still sealed.
//
// This does NOT protect against attackers with root access to the running
// process, or against copies held by the database driver once a value has
// been sent.
package secure
