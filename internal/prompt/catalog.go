// Package prompt holds the fixed instruction templates that turn a
// consultation transcript into a chat-completion request.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Action names an analysis a client can request for a transcript.
type Action string

const (
	ActionCreateSOAPNotes      Action = "createSoapNotes"
	ActionSOAPNotes            Action = "soapNotes"
	ActionAnalyzeVitals        Action = "analyzeVitals"
	ActionAnalyzeCharges       Action = "analyzeCharges"
	ActionAnalyzeDifferentials Action = "analyzeDifferentials"
	ActionClientSummary        Action = "clientSummary"
)

// SystemMessage is sent ahead of every instruction.
const SystemMessage = "You are a veterinary assistant skilled in analyzing consultations."

const (
	soapNotesInstruction = "Create detailed SOAP notes based on the following consultation transcript. " +
		"Ensure to include all relevant information under each SOAP category."

	vitalsInstruction = "Extract and list the vital information from the following consultation transcript, " +
		"including temperature, heart rate, respiratory rate, weight, body condition score and any other measured values. " +
		"List one measurement per line with its unit, and mark vitals that were not mentioned as not recorded."

	chargesInstruction = "List the billable items mentioned in the following consultation transcript: " +
		"examinations, procedures, diagnostics, medications and supplies. " +
		"Give one item per line with the quantity where it was stated."

	differentialsInstruction = "Based on the following consultation transcript, list the differential diagnoses worth considering, " +
		"ordered from most to least likely, with the history and findings that support or argue against each."

	clientSummaryInstruction = "Write a plain-language summary of the following consultation for the pet owner. " +
		"Cover what was found, the treatment given, any medication with dosing instructions, and the recommended follow-up. " +
		"Avoid clinical jargon."
)

// ErrUnsupportedAction is returned by Lookup for names missing from the catalog.
var ErrUnsupportedAction = errors.New("unsupported operation")

type unsupportedActionError struct {
	action string
}

func (e *unsupportedActionError) Error() string {
	return "Unsupported operation: " + e.action
}

func (e *unsupportedActionError) Is(target error) bool {
	return target == ErrUnsupportedAction
}

// Template is a resolved catalog entry.
type Template struct {
	Action      Action
	System      string
	Instruction string
}

// UserMessage joins the instruction and the transcript into one user turn.
func (t Template) UserMessage(transcript string) string {
	return fmt.Sprintf("%s\n\nTranscript: %s", t.Instruction, transcript)
}

type Catalog struct {
	system       string
	instructions map[Action]string
	order        []Action
}

func DefaultCatalog() *Catalog {
	return &Catalog{
		system: SystemMessage,
		instructions: map[Action]string{
			ActionCreateSOAPNotes:      soapNotesInstruction,
			ActionSOAPNotes:            soapNotesInstruction,
			ActionAnalyzeVitals:        vitalsInstruction,
			ActionAnalyzeCharges:       chargesInstruction,
			ActionAnalyzeDifferentials: differentialsInstruction,
			ActionClientSummary:        clientSummaryInstruction,
		},
		order: []Action{
			ActionCreateSOAPNotes,
			ActionSOAPNotes,
			ActionAnalyzeVitals,
			ActionAnalyzeCharges,
			ActionAnalyzeDifferentials,
			ActionClientSummary,
		},
	}
}

// WithOverrides returns a copy of c with the given instructions replaced.
// Blank values and actions outside the catalog are ignored. An override for
// the SOAP template applies to both of its names.
func (c *Catalog) WithOverrides(overrides map[Action]string) *Catalog {
	out := &Catalog{
		system:       c.system,
		instructions: make(map[Action]string, len(c.instructions)),
		order:        append([]Action(nil), c.order...),
	}
	for action, instruction := range c.instructions {
		out.instructions[action] = instruction
	}

	for action, instruction := range overrides {
		instruction = strings.TrimSpace(instruction)
		if instruction == "" {
			continue
		}
		if _, ok := out.instructions[action]; !ok {
			continue
		}
		switch action {
		case ActionCreateSOAPNotes, ActionSOAPNotes:
			out.instructions[ActionCreateSOAPNotes] = instruction
			out.instructions[ActionSOAPNotes] = instruction
		default:
			out.instructions[action] = instruction
		}
	}
	return out
}

func (c *Catalog) Lookup(action string) (Template, error) {
	instruction, ok := c.instructions[Action(action)]
	if !ok {
		return Template{}, &unsupportedActionError{action: action}
	}
	return Template{Action: Action(action), System: c.system, Instruction: instruction}, nil
}

func (c *Catalog) Supports(action string) bool {
	_, ok := c.instructions[Action(action)]
	return ok
}

func (c *Catalog) Actions() []Action {
	return append([]Action(nil), c.order...)
}
