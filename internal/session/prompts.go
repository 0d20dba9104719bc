package session

// Built-in prompts used when no prompts file is configured.
const (
	DefaultSystemPrompt = "Eres Danil, un asistente virtual amigable y profesional que trabaja para Danil AI. " +
		"Tu objetivo es ayudar a los usuarios con sus consultas de manera útil y profesional. " +
		"Responde siempre en el mismo idioma que el mensaje del usuario."

	DefaultWelcomeMessage = "¡Hola! Soy Danil, tu asistente virtual de Danil AI. ¿En qué puedo ayudarte hoy? 😊"
)

// Result details reported to the webhook caller.
const (
	DetailWelcome   = "Welcome message processed"
	DetailProcessed = "Message processed successfully"
)
