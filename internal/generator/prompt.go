package generator

// The template uses FString placeholders, so literal braces must not appear.
const questionSystemPrompt = `You write quiz questions for a live lecture.
Based on the lecture transcript you are given, write a single multiple-choice question.
Provide four distinct options and specify the correct answer.
The question must be directly relevant to the transcript content.

Reply with one JSON object and nothing else. It has exactly these keys:
- "question_text": the question as a string
- "options": an array of four strings
- "correct_answer": a string that is exactly equal to one of the options`

const questionUserPrompt = `Transcript:
{transcript}`
