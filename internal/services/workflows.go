package services

import (
	"context"
	"fmt"
	"strings"

	"aria-orchestrator/internal/models"
)

// Intent names the engine dispatches on. Anything else falls through to the
// default workflow.
const (
	intentGreeting   = "greeting"
	intentQuestion   = "question"
	intentRequest    = "request"
	intentBooking    = "booking"
	intentWeather    = "weather"
	intentNavigation = "navigation"
	intentShopping   = "shopping"
	intentComplaint  = "complaint"
	intentGoodbye    = "goodbye"
	intentDefault    = "default"
)

func (engine *WorkflowEngine) registerBuiltinWorkflows() {
	engine.workflows[intentGreeting] = greetingWorkflow
	engine.workflows[intentQuestion] = questionWorkflow
	engine.workflows[intentRequest] = requestWorkflow
	engine.workflows[intentBooking] = bookingWorkflow
	engine.workflows[intentWeather] = weatherWorkflow
	engine.workflows[intentNavigation] = navigationWorkflow
	engine.workflows[intentShopping] = shoppingWorkflow
	engine.workflows[intentComplaint] = complaintWorkflow
	engine.workflows[intentGoodbye] = goodbyeWorkflow
	engine.workflows[intentDefault] = defaultWorkflow
}

func greetingWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	return &models.WorkflowResult{
		ResponseText: "Hello! How can I assist you today?",
		Actions: []models.Action{
			{"type": "display_suggestions", "suggestions": []string{
				"Ask a question",
				"Make a booking",
				"Get weather info",
			}},
		},
		Data: map[string]interface{}{
			"intent":        intentGreeting,
			"next_expected": []string{intentQuestion, intentRequest, intentBooking},
		},
	}, nil
}

func questionWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	ragResult, err := client.CallRAG(ctx, request.Text, request.Entities, 0)
	if err != nil {
		return nil, models.WrapExternalError("rag", err)
	}

	llmResult, err := client.CallLLM(ctx,
		fmt.Sprintf("Answer this question: %s", request.Text),
		stringField(ragResult, "context"),
		request.Entities, 0)
	if err != nil {
		return nil, models.WrapExternalError("llm", err)
	}

	responseText := stringField(llmResult, "response")
	if responseText == "" {
		responseText = "I'm not sure about that. Could you rephrase your question?"
	}

	sources := ragResult["sources"]
	if sources == nil {
		sources = []interface{}{}
	}

	confidence := floatField(llmResult, "confidence", 0.8)

	return &models.WorkflowResult{
		ResponseText: responseText,
		Actions: []models.Action{
			{"type": "display_sources", "sources": sources},
		},
		Data: map[string]interface{}{
			"intent":     intentQuestion,
			"confidence": confidence,
			"sources":    sources,
		},
	}, nil
}

func requestWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	helpType := classifyRequestType(request.Text)

	var responseText string
	switch helpType {
	case "information":
		ragResult, err := client.CallRAG(ctx, request.Text, request.Entities, 0)
		if err != nil {
			return nil, models.WrapExternalError("rag", err)
		}

		llmResult, err := client.CallLLM(ctx,
			fmt.Sprintf("Help with this request: %s", request.Text),
			stringField(ragResult, "context"),
			request.Entities, 0)
		if err != nil {
			return nil, models.WrapExternalError("llm", err)
		}

		responseText = stringField(llmResult, "response")
		if responseText == "" {
			responseText = "I'd be happy to help! Could you provide more details?"
		}
	case "booking":
		responseText = "I can help you make a booking. What would you like to book?"
	default:
		responseText = "I'm here to help! Could you tell me more about what you need?"
	}

	actionType := "provide_options"
	if helpType == "unknown" {
		actionType = "request_clarification"
	}

	return &models.WorkflowResult{
		ResponseText: responseText,
		Actions:      []models.Action{{"type": actionType}},
		Data: map[string]interface{}{
			"intent":    intentRequest,
			"help_type": helpType,
		},
	}, nil
}

func bookingWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	details := extractBookingDetails(request.Entities)
	missing := missingBookingInfo(details)

	if len(missing) > 0 {
		return &models.WorkflowResult{
			ResponseText: fmt.Sprintf(
				"I'd be happy to help you make a booking. I need some more information: %s",
				strings.Join(missing, ", ")),
			Actions: []models.Action{
				{"type": "request_info", "required_fields": missing},
			},
			Data: map[string]interface{}{
				"intent":          intentBooking,
				"partial_details": details,
			},
		}, nil
	}

	return &models.WorkflowResult{
		ResponseText: "Great! I've found some options for your booking. Let me show you what's available.",
		Actions: []models.Action{
			{"type": "display_booking_options", "options": []map[string]interface{}{
				{"name": "Option 1", "price": "$50", "time": "2:00 PM"},
				{"name": "Option 2", "price": "$75", "time": "4:00 PM"},
			}},
		},
		Data: map[string]interface{}{
			"intent":  intentBooking,
			"details": details,
		},
	}, nil
}

func weatherWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	location := extractLocation(request.Entities)

	if location == "" {
		return &models.WorkflowResult{
			ResponseText: "I can help you with weather information. Which location would you like to know about?",
			Actions:      []models.Action{{"type": "request_location"}},
			Data: map[string]interface{}{
				"intent":         intentWeather,
				"needs_location": true,
			},
		}, nil
	}

	return &models.WorkflowResult{
		ResponseText: fmt.Sprintf(
			"The weather in %s is currently sunny with a temperature of 72°F. There's a slight chance of rain later today.",
			location),
		Actions: []models.Action{
			{"type": "display_weather", "location": location, "temperature": "72°F", "condition": "sunny"},
		},
		Data: map[string]interface{}{
			"intent":   intentWeather,
			"location": location,
		},
	}, nil
}

func navigationWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	destination := extractLocation(request.Entities)

	if destination == "" {
		return &models.WorkflowResult{
			ResponseText: "I can help you with directions. Where would you like to go?",
			Actions:      []models.Action{{"type": "request_destination"}},
			Data: map[string]interface{}{
				"intent":            intentNavigation,
				"needs_destination": true,
			},
		}, nil
	}

	return &models.WorkflowResult{
		ResponseText: fmt.Sprintf("I can help you get to %s. Would you like driving or walking directions?", destination),
		Actions: []models.Action{
			{"type": "display_navigation_options", "destination": destination},
		},
		Data: map[string]interface{}{
			"intent":      intentNavigation,
			"destination": destination,
		},
	}, nil
}

func shoppingWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	product := extractProduct(request.Entities)

	if product == "" {
		return &models.WorkflowResult{
			ResponseText: "I can help you find products. What are you looking for?",
			Actions:      []models.Action{{"type": "request_product"}},
			Data: map[string]interface{}{
				"intent":        intentShopping,
				"needs_product": true,
			},
		}, nil
	}

	return &models.WorkflowResult{
		ResponseText: fmt.Sprintf("I found several options for %s. Here are some popular choices:", product),
		Actions: []models.Action{
			{"type": "display_products", "query": product},
		},
		Data: map[string]interface{}{
			"intent":  intentShopping,
			"product": product,
		},
	}, nil
}

func complaintWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	return &models.WorkflowResult{
		ResponseText: "I'm sorry to hear you're having an issue. I'm here to help resolve this. Could you tell me more about the problem?",
		Actions: []models.Action{
			{"type": "escalate_to_support"},
			{"type": "request_details"},
		},
		Data: map[string]interface{}{
			"intent":   intentComplaint,
			"priority": "high",
		},
	}, nil
}

func goodbyeWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	return &models.WorkflowResult{
		ResponseText: "Thank you for chatting with me! Have a great day!",
		Actions:      []models.Action{{"type": "end_session"}},
		Data: map[string]interface{}{
			"intent":      intentGoodbye,
			"session_end": true,
		},
	}, nil
}

func defaultWorkflow(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error) {
	llmResult, err := client.CallLLM(ctx,
		fmt.Sprintf("Respond to: %s", request.Text), "", request.Entities, 0)
	if err != nil {
		return nil, models.WrapExternalError("llm", err)
	}

	responseText := stringField(llmResult, "response")
	if responseText == "" {
		responseText = "I'm not sure how to help with that. Could you rephrase your request?"
	}

	return &models.WorkflowResult{
		ResponseText: responseText,
		Actions:      []models.Action{{"type": "request_clarification"}},
		Data: map[string]interface{}{
			"intent":              "unknown",
			"needs_clarification": true,
		},
	}, nil
}

func classifyRequestType(text string) string {
	lowered := strings.ToLower(text)

	for _, word := range []string{"book", "reserve", "schedule"} {
		if strings.Contains(lowered, word) {
			return "booking"
		}
	}
	for _, word := range []string{"find", "search", "tell me", "what is"} {
		if strings.Contains(lowered, word) {
			return "information"
		}
	}
	return "unknown"
}

func extractBookingDetails(entities []models.Entity) map[string]interface{} {
	details := make(map[string]interface{})

	for _, entity := range entities {
		switch strings.ToLower(entity.Label) {
		case "date", "time":
			details[strings.ToLower(entity.Label)] = entity.Text
		case "person", "org":
			details["service"] = entity.Text
		case "cardinal", "quantity":
			details["quantity"] = entity.Text
		}
	}
	return details
}

func missingBookingInfo(details map[string]interface{}) []string {
	missing := []string{}
	for _, field := range []string{"date", "time"} {
		value, exists := details[field]
		if !exists || value == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func extractLocation(entities []models.Entity) string {
	for _, entity := range entities {
		switch strings.ToLower(entity.Label) {
		case "gpe", "loc", "location":
			return entity.Text
		}
	}
	return ""
}

func extractProduct(entities []models.Entity) string {
	for _, entity := range entities {
		switch strings.ToLower(entity.Label) {
		case "product", "org":
			return entity.Text
		}
	}
	return ""
}

func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func floatField(payload map[string]interface{}, key string, fallback float64) float64 {
	if payload == nil {
		return fallback
	}
	if value, ok := payload[key].(float64); ok {
		return value
	}
	return fallback
}
