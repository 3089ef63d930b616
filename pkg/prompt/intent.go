package prompt

import (
	"regexp"
	"strings"

	"github.com/husmancristian/qafastweb/pkg/models"
)

// Intent is the kind of scenario a test case describes.
type Intent string

const (
	IntentInvalidCredentials Intent = "login_invalid_credentials"
	IntentRegistration       Intent = "user_registration"
	IntentSearch             Intent = "search_functionality"
	IntentLogout             Intent = "logout"
	IntentOAuthLogin         Intent = "google_oauth_login"
	IntentTraditionalLogin   Intent = "traditional_login"
	IntentNavigation         Intent = "navigation"
	IntentFormSubmission     Intent = "form_submission"
)

var (
	explicitUserRe     = regexp.MustCompile(`(?i)usuario[:\s]+\w+`)
	explicitPasswordRe = regexp.MustCompile(`(?i)(contraseña|password)[:\s]+\w+`)
)

// rule is one entry of the classification decision list.
type rule struct {
	match  func(text string) bool
	intent func(text string) Intent
}

func fixed(i Intent) func(string) Intent {
	return func(string) Intent { return i }
}

func anyOf(keywords ...string) func(string) bool {
	return func(text string) bool {
		for _, k := range keywords {
			if strings.Contains(text, k) {
				return true
			}
		}
		return false
	}
}

// rules are evaluated top to bottom and the first match wins.
var rules = []rule{
	{
		match: func(text string) bool {
			return anyOf("incorrecta", "incorrect", "inválida", "invalid", "fallido", "failed")(text) &&
				anyOf("login", "contraseña", "password", "credencial")(text)
		},
		intent: fixed(IntentInvalidCredentials),
	},
	{
		match:  anyOf("registr", "register", "sign up", "crear cuenta", "nueva cuenta", "crea tu cuenta"),
		intent: fixed(IntentRegistration),
	},
	{
		match:  anyOf("buscar", "search", "búsqueda"),
		intent: fixed(IntentSearch),
	},
	{
		match:  anyOf("logout", "cerrar sesión", "salir", "sign out"),
		intent: fixed(IntentLogout),
	},
	{
		match:  anyOf("google", "oauth", "auth", "sso", "continuar con google"),
		intent: fixed(IntentOAuthLogin),
	},
	{
		match:  anyOf("login", "iniciar sesión", "usuario", "contraseña", "password"),
		intent: func(text string) Intent {
			// Without explicit credentials a login is assumed to go through OAuth.
			if explicitUserRe.MatchString(text) && explicitPasswordRe.MatchString(text) {
				return IntentTraditionalLogin
			}
			return IntentOAuthLogin
		},
	},
	{
		match:  anyOf("navegación", "navigate", "visitar", "ir a", "módulo", "sección"),
		intent: fixed(IntentNavigation),
	},
	{
		match:  anyOf("formulario", "form", "llenar", "submit"),
		intent: fixed(IntentFormSubmission),
	},
}

// Classify detects the intent of a test case from its free-text fields.
func Classify(tc models.TestCase) Intent {
	text := strings.ToLower(tc.Name + " " + tc.Description + " " + tc.Steps)

	for _, r := range rules {
		if r.match(text) {
			return r.intent(text)
		}
	}

	if strings.Contains(strings.ToLower(tc.URL), "login") {
		return IntentOAuthLogin
	}
	return IntentNavigation
}
