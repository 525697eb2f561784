package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar para mantener nombres consistentes en todo el codebase.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Layer identifica la capa (service | store | http).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Component identifica el componente (oauth.token, apikey, mtls...).
func Component(v string) zap.Field { return zap.String("component", v) }

// Op identifica la operación dentro del componente.
func Op(v string) zap.Field { return zap.String("op", v) }

// Campos de dominio.

func ClientID(v string) zap.Field    { return zap.String("client_id", v) }
func UserID(v string) zap.Field      { return zap.String("user_id", v) }
func GrantType(v string) zap.Field   { return zap.String("grant_type", v) }
func Scope(v string) zap.Field       { return zap.String("scope", v) }
func KeyID(v string) zap.Field       { return zap.String("key_id", v) }
func Fingerprint(v string) zap.Field { return zap.String("fingerprint", v) }
func JTI(v string) zap.Field         { return zap.String("jti", v) }

func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }

// Err crea el campo estándar de error.
func Err(err error) zap.Field { return zap.Error(err) }
