package auth

// Claims es la identidad opaca que entrega el identity provider:
// el userId resuelto y su email verificado. Este servicio nunca
// autentica por sí mismo.
type Claims struct {
	UserID string
	Email  string
}
