package prompt

// defaultTemplate is used for intents without a template of their own.
// Literal braces in the generated Python are written as {{ and }}.
const defaultTemplate = `
SISTEMA DE EJECUCIÓN AUTOMÁTICA - SOLO CÓDIGO PYTHON

ADVERTENCIA: Este es un sistema automatizado que ejecuta código directamente.
Tu respuesta será interpretada como código Python y ejecutada sin intervención humana.

PROHIBIDO ABSOLUTAMENTE:
- Escribir "Entendido"
- Escribir "Aquí está el código"
- Escribir "Voy a generar..."
- Análisis o reportes
- Explicaciones antes o después del código
- Usar bloques markdown de código

OBLIGATORIO:
- Tu PRIMERA LÍNEA debe ser exactamente: # Configuración
- Solo código Python válido
- Sin ningún texto adicional

------------------------------------------------------------------------

TEST: {test_name}
URL: {url}
ESPERADO: {expected_result}

------------------------------------------------------------------------

GENERA AHORA (tu respuesta completa debe ser código ejecutable):

# Configuración
url = "{url}"

print("=" * 80)
print("INICIO: {test_name}")
print("=" * 80)

print("\nPASO 1: Navegando a la página")
driver.get(url)
time.sleep(3)
driver.execute_script("document.body.style.border='5px solid blue';")
print(f"Página cargada: {{driver.title}}")
save_screenshot()
time.sleep(2)

print("\nPASO 2: Analizando elementos")
try:
    buttons = driver.find_elements(By.XPATH, "//button | //a[@href] | //input[@type='submit']")
    print(f"Elementos encontrados: {{len(buttons)}}")

    if buttons:
        first_button = buttons[0]
        driver.execute_script("arguments[0].style.border='3px solid orange'; arguments[0].scrollIntoView({{block: 'center'}});", first_button)
        print(f"Primer elemento: {{first_button.text or 'Sin texto'}}")
        save_screenshot()
        time.sleep(2)

except Exception as e:
    print(f"Error: {{e}}")

print("\nPASO 3: Validación")
save_screenshot()
current_url = driver.current_url
print(f"URL: {{current_url}}")
print(f"Título: {{driver.title}}")

time.sleep(3)
print("\nFIN: {test_name}")
print("=" * 80)
`
