// Package prompt turns a test case into the instruction sent to the code
// generation service.
package prompt

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/husmancristian/qafastweb/pkg/models"
)

// Result is a built prompt plus how it was produced.
type Result struct {
	Text     string
	Intent   Intent
	Params   Params
	Template string // "default" when the built-in template was used
	Fallback bool   // true when rendering failed and the raw fields were embedded
}

// Builder builds prompts from templates.
type Builder struct {
	templatesDir string
	logger       *slog.Logger
}

// NewBuilder creates a builder. templatesDir may be empty.
func NewBuilder(templatesDir string, logger *slog.Logger) *Builder {
	return &Builder{templatesDir: templatesDir, logger: logger.With(slog.String("component", "prompt_builder"))}
}

// Build returns the prompt text for tc. It never fails.
func (b *Builder) Build(tc models.TestCase) string {
	return b.BuildDetailed(tc).Text
}

// BuildDetailed classifies tc, renders its template and falls back to a
// minimal prompt when the template cannot be rendered.
func (b *Builder) BuildDetailed(tc models.TestCase) Result {
	intent := Classify(tc)
	params := ExtractParams(tc, intent)
	res := Result{Intent: intent, Params: params, Template: string(intent)}

	body := defaultTemplate
	tmpl, err := LoadTemplate(string(intent), b.templatesDir)
	switch {
	case err == nil:
		body = tmpl.Prompt
	case errors.Is(err, ErrTemplateNotFound):
		b.logger.Debug("No template for intent, using default", slog.String("intent", string(intent)))
		res.Template = "default"
	default:
		b.logger.Warn("Failed to load template, using default", slog.String("intent", string(intent)), slog.String("error", err.Error()))
		res.Template = "default"
	}

	text, err := Render(body, params)
	if err != nil {
		b.logger.Warn("Failed to render template, using fallback prompt",
			slog.Int64("test_case_id", tc.ID),
			slog.String("template", res.Template),
			slog.String("error", err.Error()),
		)
		res.Text = fallbackPrompt(tc)
		res.Fallback = true
		return res
	}

	b.logger.Info("Prompt built",
		slog.Int64("test_case_id", tc.ID),
		slog.String("intent", string(intent)),
		slog.String("template", res.Template),
		slog.Int("length", len(text)),
	)
	res.Text = text
	return res
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func fallbackPrompt(tc models.TestCase) string {
	url := orDefault(tc.URL, DefaultURL)
	return fmt.Sprintf(`
SOLO GENERA CÓDIGO PYTHON EJECUTABLE. NO agregues explicaciones.

Tu respuesta DEBE comenzar con: # Configuración

Test a automatizar:
- Nombre: %s
- URL: %s
- Descripción: %s
- Pasos: %s
- Resultado Esperado: %s

GENERA:
1. Navegación a %s
2. Interacción con elementos visibles
3. Resaltado con driver.execute_script()
4. Screenshots con save_screenshot()
5. Validación final con print()

Variables disponibles: driver, By, Keys, time, WebDriverWait, EC, save_screenshot()

IMPORTANTE: No uses markdown, no agregues títulos, solo código Python puro.
`,
		tc.Name,
		url,
		orDefault(tc.Description, "Sin descripción"),
		orDefault(tc.Steps, "Automatizar el flujo completo"),
		orDefault(tc.ExpectedResult, "Ejecución exitosa"),
		url,
	)
}
