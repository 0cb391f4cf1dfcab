package services

import "errors"

var (
	// ErrNotAuthenticated indicates the operation requires a logged-in user.
	ErrNotAuthenticated = errors.New("checkout: not authenticated")
	// ErrEmptyCart indicates checkout was attempted with nothing in the cart.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInvalidCredentials indicates the email and password pair did not match an account.
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	// ErrEmailTaken indicates signup collided with an existing account.
	ErrEmailTaken = errors.New("session: email already registered")
	// ErrForbidden indicates the caller's role or ownership does not allow the operation.
	ErrForbidden = errors.New("catalog: forbidden")
	// ErrProductNotFound indicates the requested product does not exist.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrInvalidInput indicates the caller supplied invalid input.
	ErrInvalidInput = errors.New("services: invalid input")
)
