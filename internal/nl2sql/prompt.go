package nl2sql

import "fmt"

const systemPrompt = "You are a SQL query generator. Generate only the SQL query without any explanation."

const userPromptTemplate = `Given the following database schema:
%s

SQL dialect: %s

Convert this question into a SQL query:
%s

Return only the SQL query without any explanation.`

func buildPrompt(req Request) (system, user string) {
	return systemPrompt, fmt.Sprintf(userPromptTemplate, req.Schema, req.Dialect, req.Question)
}
