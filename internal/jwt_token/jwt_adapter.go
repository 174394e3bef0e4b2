package jwttoken

import (
	authmw "kinwatch/pkg/platform/middleware/auth"
)

// JWTServiceAdapter lets the auth middleware validate device tokens without
// depending on the jwt package.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

// ValidateToken returns the subject the token was issued to.
func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{SubjectID: claims.Subject, TokenID: claims.ID}, nil
}
