package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const loginScript = `# Configuración
from selenium import webdriver
from selenium.webdriver.common.by import By
import time

driver = webdriver.Chrome()
try:
    driver.get("https://www.celevro.com/login")
    time.sleep(2)
    driver.find_element(By.ID, "email").send_keys("user@example.com")
    print("Login OK")
finally:
    driver.quit()`

const filteredScript = `Voy a generar el script solicitado.
from selenium import webdriver
from selenium.webdriver.common.by import By
driver = webdriver.Chrome()
driver.get("https://www.celevro.com")
print("Titulo:", driver.title)
driver.quit()
Espero que te sirva.`

func TestExtract_PythonFence(t *testing.T) {
	raw := "Aquí está el código:\n\n```python\n" + loginScript + "\n```\n\nEste código abre el login."
	assert.Equal(t, loginScript, Extract(raw))
}

func TestExtract_PythonFenceShort(t *testing.T) {
	assert.Equal(t, "print('hi')", Extract("```python\nprint('hi')\n```"))
}

func TestExtract_GenericFenceNeedsSignal(t *testing.T) {
	raw := "Salida esperada:\n```\nOK 200\n```\n\nScript:\n```\nimport time\ntime.sleep(1)\n```"
	assert.Equal(t, "import time\ntime.sleep(1)", Extract(raw))
}

func TestExtract_MarkerSlice(t *testing.T) {
	raw := "Entendido. Aquí está el código generado:\n\n" + loginScript +
		"\n\n## Hallazgos\n- El formulario responde correctamente."
	assert.Equal(t, loginScript, Extract(raw))
}

func TestExtract_MarkerSliceTooShort(t *testing.T) {
	// A short slice falls through to the remaining strategies.
	raw := "Entendido.\n\n# Configuración\nx = 1\n\n**Nota** nada más"
	assert.Equal(t, raw, Extract(raw))
}

func TestExtract_LineFilter(t *testing.T) {
	got := Extract(filteredScript)
	assert.True(t, strings.HasPrefix(got, "from selenium import webdriver"))
	assert.True(t, strings.HasSuffix(got, "driver.quit()"))
	assert.NotContains(t, got, "Voy a generar")
	assert.NotContains(t, got, "Espero")
}

func TestExtract_WholeTextFallback(t *testing.T) {
	raw := "Entendido, ejecuta driver.get('https://example.com')"
	assert.Equal(t, raw, Extract(raw))
}

func TestExtract_PureConversation(t *testing.T) {
	for _, raw := range []string{
		"",
		"   \n\t",
		"Hola, no pude completar la tarea. Es importante revisar la URL antes de continuar.",
		"I could not reach the page, please check the site and try again later.",
	} {
		assert.Equal(t, "", Extract(raw), raw)
	}
}

const jsInjectionScript = `# Configuración
from selenium import webdriver
import time

driver = webdriver.Chrome()
driver.get("https://www.celevro.com")
js = """
document.body.style.border = '5px solid blue';
window.scrollTo(0, 500);
"""
driver.execute_script(js)
time.sleep(1)
print("Scroll OK")
driver.quit()`

const docstringScript = `"""Prueba de login en celevro.

Abre la página y valida el formulario.
"""
` + loginScript

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"```python\n" + jsInjectionScript + "\n```",
		"```python\n" + docstringScript + "\n```",
		"```python\n" + loginScript + "\n```",
		"Entendido.\n\n" + loginScript + "\n\nEste código hace login.",
		filteredScript,
		loginScript,
		"```python\nprint('hi')\n```",
		"Entendido, ejecuta driver.get('https://example.com')",
	}
	for _, in := range inputs {
		once := Extract(in)
		assert.NotEmpty(t, once, in)
		assert.Equal(t, once, Extract(once), in)
	}
}

func TestExtract_KeepsTripleQuotedStrings(t *testing.T) {
	for _, script := range []string{jsInjectionScript, docstringScript} {
		once := Extract("```python\n" + script + "\n```")
		twice := Extract(once)
		assert.Equal(t, script, twice)
		assert.Equal(t, strings.Count(once, `"""`), strings.Count(twice, `"""`))
	}

	// The line filter keeps string bodies even when they read like prose.
	raw := "Voy a generar el script solicitado.\n" + strings.TrimPrefix(jsInjectionScript, RequiredMarker+"\n")
	code := Extract(raw)
	assert.Contains(t, code, "window.scrollTo(0, 500);")
	assert.Equal(t, 2, strings.Count(code, `"""`))
	assert.NotContains(t, code, "Voy a generar")
}

func TestTripleQuoted(t *testing.T) {
	lines := []string{
		`x = 1`,
		`doc = """one line"""`,
		`y = 2`,
		`js = '''`,
		`texto libre`,
		`'''`,
		`z = 3`,
	}
	assert.Equal(t, []bool{false, true, false, true, true, true, false}, tripleQuoted(lines))
}

func TestLooksLikeCode(t *testing.T) {
	assert.True(t, LooksLikeCode(loginScript))
	assert.False(t, LooksLikeCode("x = 1"), "too short")
	assert.False(t, LooksLikeCode(strings.Repeat("solo texto sin código ", 5)), "no indicators")
	assert.False(t, LooksLikeCode("Entendido, aquí va:\n"+loginScript), "conversational first line")
}

func TestCleanDownloaded(t *testing.T) {
	raw := "#!/usr/bin/env python3\n# Generated by the agent\n\n" + loginScript + "\n"
	cleaned := CleanDownloaded(raw)

	assert.True(t, strings.HasPrefix(cleaned, RequiredMarker))
	assert.True(t, Trusted(cleaned))
	assert.False(t, Trusted("#!/bin/sh\necho hi"))
	assert.False(t, Trusted(strings.Repeat("a", 200)))
}
