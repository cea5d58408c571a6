package prompts

// ============================================================================
// Shared Lexicons
// ============================================================================

// ObjectWords is the shared subject lexicon used by tag extraction.
var ObjectWords = []string{
	"robot", "dragon", "castle", "forest", "city", "mountain", "ocean", "space", "planet",
	"car", "ship", "building", "tree", "flower", "animal", "bird", "fish", "creature",
	"sword", "shield", "crown", "gem", "crystal", "magic", "spell", "potion",
}

// StyleWords is the shared style lexicon used by tag extraction.
var StyleWords = []string{
	"cyberpunk", "steampunk", "fantasy", "sci-fi", "medieval", "futuristic", "vintage",
	"modern", "ancient", "mystical", "magical", "dark", "bright", "colorful", "glowing",
	"metallic", "wooden", "stone", "glass",
}

// EnvironmentWords is the shared environment lexicon used by tag extraction.
var EnvironmentWords = []string{
	"sunset", "sunrise", "night", "day", "storm", "rain", "snow", "desert", "jungle",
	"underwater", "sky", "clouds", "stars", "moon", "sun",
}

// MoodWords is the shared mood lexicon used by tag extraction.
var MoodWords = []string{
	"peaceful", "dramatic", "mysterious", "epic", "serene", "chaotic", "beautiful",
	"terrifying", "majestic", "elegant", "powerful", "delicate",
}

// ============================================================================
// LLM Prompts (prompt expansion and intent analysis)
// ============================================================================

// ExpansionSystemPrompt defines the role and rules for creative prompt
// expansion. The memory context block, when present, is appended by the
// caller before the closing instruction.
const ExpansionSystemPrompt = `You are a creative assistant specialized in expanding simple prompts into vivid, detailed descriptions for image generation.

Your task is to take a basic prompt and expand it into a rich, descriptive prompt that will generate stunning visuals. Focus on:
- Visual details (colors, lighting, textures, composition)
- Artistic style and mood
- Environmental context
- Technical photography/art terms when appropriate

Keep the expansion focused and under 200 words. Return ONLY the expanded prompt, no explanations.`

// ExpansionMemoryContextHeader introduces retrieved past creations inside the
// expansion system prompt.
const ExpansionMemoryContextHeader = `

RELEVANT PAST CREATIONS:
`

// ExpansionMemoryContextFooter closes the retrieved-context block.
const ExpansionMemoryContextFooter = `
Use these past creations as inspiration and context, but create something new and unique.
`

// ExpansionUserPrompt is the user-message template for expansion; the prompt
// to expand is appended after the colon.
const ExpansionUserPrompt = `Expand this prompt for image generation: `

// AnalysisPrompt asks for a compact intent analysis of a creative prompt.
// The prompt to analyze is appended after the final colon.
const AnalysisPrompt = `Analyze this creative prompt and extract key information. Return a short response covering:
- subject: main subject/object
- style: artistic style or mood
- setting: environment or background
- intent: what the user wants to create

Prompt to analyze: `

// AnalysisMemoryAddendum extends the analysis request when past creations
// were retrieved for context.
const AnalysisMemoryAddendum = `

Also analyze:
- How this request relates to past creations
- Whether it's asking for variations, improvements, or completely new ideas
- What elements from past creations might be relevant`
