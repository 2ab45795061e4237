package consensus

import "fmt"

// The ranking template hardcodes three labeled slots; responses are
// embedded in participant order so labels map positionally.
const rankingTemplate = `Original prompt: %s

Here are 3 responses from different AI models:

Response A: %s

Response B: %s

Response C: %s

Rank these responses from best to worst (1=best, 3=worst) based on accuracy, helpfulness, and clarity.
Respond ONLY with a JSON object in this exact format:
{"rankings": {"A": 1, "B": 2, "C": 3}, "reasoning": "brief explanation"}`

const chairmanTemplate = `You are the chairman reviewing a consensus process.

Original prompt: %s

Three AI models provided these responses:
Response A: %s
Response B: %s
Response C: %s

Each model ranked all responses:
Participant 1 rankings: %s
Participant 2 rankings: %s
Participant 3 rankings: %s

Based on the responses and rankings, create a consolidated final answer that represents the best consensus.
Include a brief explanation of how you synthesized the responses.`

func rankingPrompt(prompt string, responses []ParticipantResult) string {
	return fmt.Sprintf(rankingTemplate, prompt,
		responses[0].Response, responses[1].Response, responses[2].Response)
}

func chairmanPrompt(prompt string, responses []ParticipantResult, rankings []RankingResult) string {
	return fmt.Sprintf(chairmanTemplate, prompt,
		responses[0].Response, responses[1].Response, responses[2].Response,
		rankings[0].Ranking, rankings[1].Ranking, rankings[2].Ranking)
}
