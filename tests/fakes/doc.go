// Package fakes provides test doubles for the stores and collaborators the
// rekey controllers drive.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior, including failure injection per role or per step.
//
// Usage:
//
//	db := fakes.NewFakeDatabase("old-password")
//	db.FailRole["authenticator"] = errors.New("permission denied")
//	ctrl := rotation.NewController(rotation.Deps{Database: db, ...})
//	// Exercise the controller, then inspect db.Passwords and db.Calls()
package fakes
