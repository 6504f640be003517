package llm

const ruleExtractionPrompt = `Analyze the following policy document and extract all compliance rules.
For each rule, provide:
1. rule_code: A short identifier (e.g., "DATA-001")
2. description: Human-readable description of the rule
3. evaluation_criteria: Specific conditions that constitute a violation
4. severity: low, medium, high, or critical
5. target_entities: What type of data this rule applies to

Policy Document:
%s

Return ONLY a JSON array of rules, no additional text.`

const sqlGenerationPrompt = `Given the following compliance rule and database schema, generate a SQL query
that identifies records violating this rule.

Rule: %s
Evaluation Criteria: %s

Database Schema:
%s

Return only the SQL query that selects violating records.
Include the primary key and relevant columns in the SELECT.
The query should return records that VIOLATE the rule (non-compliant records).

Return ONLY the SQL query, no additional text or explanation.`

const justificationPrompt = `Explain why the following database record violates the compliance rule.
Be specific and reference the actual field values.

Rule: %s
Evaluation Criteria: %s

Record Data:
%s

Provide a clear, concise explanation suitable for a compliance review.
Return ONLY the explanation text, no additional formatting.`

const remediationPrompt = `Suggest remediation steps for the following compliance violation.

Rule: %s
Violation: %s
Record Data: %s

Provide specific, actionable steps to resolve this violation.
Return ONLY the remediation steps, no additional formatting.`
