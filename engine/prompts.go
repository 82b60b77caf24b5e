package engine

// fallbackReply is the degraded terminal response. It never exposes
// internal failure detail to the user.
const fallbackReply = "Sorry, I lost my train of thought for a second. Could you say that again?"

// scenarioWindow caps how many trailing turns feed the image scene prompt.
const scenarioWindow = 5

const scenarioInstruction = `Create a single vivid scene description, one or two sentences, ` +
	`suitable as an image generation prompt, capturing what the conversation below is about. ` +
	`Respond with the scene description only, no preamble.`

const imageAckPrompt = `You just created and attached an image of: %s. ` +
	`Reply to the user in your own voice, briefly, acknowledging the image you are sending along.`

const newSummaryPrompt = `Summarize the conversation below in a compact paragraph, ` +
	`preserving names, facts, preferences, and commitments. Respond with the summary only.

%s`

const extendSummaryPrompt = `This is the running summary of a longer conversation:

%s

Extend it to also cover the new turns below. Keep it a single compact paragraph, ` +
	`preserving names, facts, preferences, and commitments. Respond with the updated summary only.

%s`
