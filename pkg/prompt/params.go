package prompt

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/husmancristian/qafastweb/pkg/models"
)

// Defaults used when a value is neither in the structured input nor in the text.
const (
	DefaultURL            = "https://www.celevro.com"
	defaultExpectedResult = "Acción completada exitosamente"
	defaultTestName       = "Test sin nombre"
)

var (
	emailRe        = regexp.MustCompile(`\b[\w.-]+@[\w.-]+\.\w+\b`)
	labeledEmailRe = regexp.MustCompile(`(?i)(?:e?mail|correo)[:\s]+([^\s,;]+@[^\s,;]+)`)
	usernameRe     = regexp.MustCompile(`(?i)(?:usuario|username|user)[:\s]+([^\s,;]+)`)
	passwordRe     = regexp.MustCompile(`(?i)(?:contraseña|password|clave)[:\s]+([^\s,;]+)`)
	fullnameRe     = regexp.MustCompile(`(?i)(?:nombre|fullname|name)[:\s]+([A-Za-záéíóúÁÉÍÓÚñÑ\s]+?)(?:,|;|\.|$)`)
	lastnameRe     = regexp.MustCompile(`(?i)(?:apellido|lastname|surname)[:\s]+([A-Za-záéíóúÁÉÍÓÚñÑ\s]+?)(?:,|;|\.|$)`)
	searchTermRe   = regexp.MustCompile(`(?i)(?:buscar|search)[:\s]+([^,;.]+)`)
	sectionsRe     = regexp.MustCompile(`(?i)(?:secciones|módulos|sections)[:\s]+([^.]+)`)
)

// Params is the placeholder mapping a template is rendered with.
type Params map[string]string

// input is the structured form of a case's steps, when they are a JSON object.
type input map[string]any

func parseInput(steps string) input {
	var in input
	if err := json.Unmarshal([]byte(steps), &in); err != nil {
		return input{}
	}
	if in == nil {
		return input{}
	}
	return in
}

// str returns the field as text, or "" when absent, null or empty.
func (in input) str(key string) string {
	v, ok := in[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ExtractParams collects the placeholder values for a case and intent.
func ExtractParams(tc models.TestCase, intent Intent) Params {
	in := parseInput(tc.Steps)
	text := tc.Steps + " " + tc.Description

	p := Params{
		"url":             firstNonEmpty(in.str("url"), tc.URL, DefaultURL),
		"expected_result": firstNonEmpty(tc.ExpectedResult, defaultExpectedResult),
		"test_name":       firstNonEmpty(tc.Name, defaultTestName),
		"description":     tc.Description,
	}

	switch intent {
	case IntentOAuthLogin:
		p["email"] = firstNonEmpty(in.str("email"), findEmail(text), "andersonveelezca@gmail.com")
		p["oauth_provider"] = "Google"

	case IntentInvalidCredentials:
		// Only explicit input counts here; text may mention the valid credentials.
		p["username"] = firstNonEmpty(in.str("username"), "usuario_invalido")
		p["password"] = firstNonEmpty(in.str("password"), "password_incorrecta")
		p["expected_error"] = "Credenciales incorrectas"

	case IntentTraditionalLogin:
		p["username"] = firstNonEmpty(in.str("username"), capture(usernameRe, text), "testuser")
		p["password"] = firstNonEmpty(in.str("password"), capture(passwordRe, text), "Test123!")

	case IntentRegistration:
		p["fullname"] = firstNonEmpty(in.str("fullname"), capture(fullnameRe, text), "Juan")
		p["lastname"] = firstNonEmpty(in.str("lastname"), capture(lastnameRe, text), "Pérez")
		p["email"] = firstNonEmpty(in.str("email"), findEmail(text), "testuser@example.com")
		p["username"] = firstNonEmpty(in.str("username"), capture(usernameRe, text), "testuser123")
		p["password"] = firstNonEmpty(in.str("password"), capture(passwordRe, text), "Test123!@#")
		p["confirm_password"] = firstNonEmpty(in.str("confirm_password"), p["password"])
		p["gender"] = firstNonEmpty(in.str("gender"), "Masculino")

		birth, _ := in["birthdate"].(map[string]any)
		b := input(birth)
		p["birthdate_day"] = firstNonEmpty(b.str("day"), "15")
		p["birthdate_month"] = firstNonEmpty(b.str("month"), "06")
		p["birthdate_year"] = firstNonEmpty(b.str("year"), "1990")

	case IntentSearch:
		p["search_term"] = firstNonEmpty(in.str("search_term"), capture(searchTermRe, text), "producto test")

	case IntentNavigation:
		p["sections"] = firstNonEmpty(in.str("sections"), capture(sectionsRe, text), "Home,Productos,Contacto")
	}

	return p
}

func capture(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func findEmail(text string) string {
	if m := emailRe.FindString(text); m != "" {
		return m
	}
	return capture(labeledEmailRe, text)
}
