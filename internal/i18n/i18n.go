// Package i18n picks a response language from Accept-Language and
// translates the handful of user-facing messages the API emits itself.
package i18n

import (
	"net/http"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	KeyInternalError = "internal_error"
	KeyRateLimited   = "rate_limited"
	KeyUnauthorized  = "unauthorized"
	KeyForbidden     = "forbidden"
	KeyNotFound      = "not_found"
)

var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
	language.Portuguese,
}

var translations = map[language.Tag]map[string]string{
	language.English: {
		KeyInternalError: "Something went wrong. Please try again later.",
		KeyRateLimited:   "Too many requests. Please slow down.",
		KeyUnauthorized:  "Authentication required.",
		KeyForbidden:     "You do not have access to this resource.",
		KeyNotFound:      "Not found.",
	},
	language.Spanish: {
		KeyInternalError: "Algo salió mal. Inténtalo de nuevo más tarde.",
		KeyRateLimited:   "Demasiadas solicitudes. Espera un momento.",
		KeyUnauthorized:  "Se requiere autenticación.",
		KeyForbidden:     "No tienes acceso a este recurso.",
		KeyNotFound:      "No encontrado.",
	},
	language.French: {
		KeyInternalError: "Une erreur est survenue. Veuillez réessayer plus tard.",
		KeyRateLimited:   "Trop de requêtes. Veuillez patienter.",
		KeyUnauthorized:  "Authentification requise.",
		KeyForbidden:     "Vous n'avez pas accès à cette ressource.",
		KeyNotFound:      "Introuvable.",
	},
	language.German: {
		KeyInternalError: "Etwas ist schiefgelaufen. Bitte versuche es später erneut.",
		KeyRateLimited:   "Zu viele Anfragen. Bitte warte einen Moment.",
		KeyUnauthorized:  "Anmeldung erforderlich.",
		KeyForbidden:     "Kein Zugriff auf diese Ressource.",
		KeyNotFound:      "Nicht gefunden.",
	},
	language.Portuguese: {
		KeyInternalError: "Algo deu errado. Tente novamente mais tarde.",
		KeyRateLimited:   "Muitas solicitações. Aguarde um momento.",
		KeyUnauthorized:  "Autenticação necessária.",
		KeyForbidden:     "Você não tem acesso a este recurso.",
		KeyNotFound:      "Não encontrado.",
	},
}

var (
	matcher = language.NewMatcher(supported)
	cat     = buildCatalog()
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range translations {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic("i18n: " + err.Error())
			}
		}
	}
	return b
}

// Match returns the best supported language for an Accept-Language value.
func Match(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}

// Translate renders key in the language of tag, falling back to English.
func Translate(tag language.Tag, key string) string {
	return Printer(tag).Sprintf(key)
}

// FromRequest translates key for the language requested by r.
func FromRequest(r *http.Request, key string) string {
	if r == nil {
		return Translate(language.English, key)
	}
	return Translate(Match(r.Header.Get("Accept-Language")), key)
}

func Supported() []language.Tag {
	out := make([]language.Tag, len(supported))
	copy(out, supported)
	return out
}
