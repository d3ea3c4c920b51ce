package store

import (
	"time"

	"github.com/pbaille/prompttune/internal/domain"
)

// seedRecords builds the default library materialized on first run
func seedRecords(now time.Time, newID func() string) []domain.PromptRecord {
	seeds := []domain.PromptInput{
		{
			Title:    "Content Creation Assistant",
			Category: domain.CategoryContent,
			Tags:     []string{"writing", "content", "SEO"},
			Text:     "You are a professional content creator. Help me write engaging, SEO-optimized content that resonates with my target audience. Focus on clear structure, compelling headlines, and actionable insights.",
		},
		{
			Title:    "Code Review Expert",
			Category: domain.CategoryDevelopment,
			Tags:     []string{"code", "review", "best-practices"},
			Text:     "Act as a senior software engineer conducting a thorough code review. Analyze the code for security vulnerabilities, performance issues, maintainability, and adherence to best practices. Provide specific, actionable feedback.",
		},
		{
			Title:    "Data Analysis Specialist",
			Category: domain.CategoryAnalytics,
			Tags:     []string{"data", "analysis", "insights"},
			Text:     "You are a data analyst with expertise in statistical analysis and business intelligence. Help me analyze this dataset, identify key trends, patterns, and provide actionable business recommendations based on the findings.",
		},
		{
			Title:    "Email Marketing Campaign",
			Category: domain.CategoryMarketing,
			Tags:     []string{"email", "marketing", "conversion"},
			Text:     "Create a compelling email marketing campaign that drives engagement and conversions. Include subject line variations, personalized content, clear call-to-actions, and A/B testing recommendations.",
		},
		{
			Title:    "Business Strategy Consultant",
			Category: domain.CategoryBusiness,
			Tags:     []string{"strategy", "business", "planning"},
			Text:     "Act as a strategic business consultant. Analyze the current market situation, identify opportunities and threats, and develop a comprehensive strategic plan with actionable steps and measurable goals.",
		},
		{
			Title:    "Social Media Content Creator",
			Category: domain.CategoryMarketing,
			Tags:     []string{"social-media", "content", "engagement"},
			Text:     "Create engaging social media content optimized for different platforms. Focus on trending topics, hashtag strategies, visual content ideas, and community engagement tactics that drive organic reach.",
		},
	}

	records := make([]domain.PromptRecord, len(seeds))
	for i, in := range seeds {
		records[i] = domain.PromptRecord{
			ID:        newID(),
			Title:     in.Title,
			Category:  in.Category,
			Tags:      in.Tags,
			Text:      in.Text,
			CreatedAt: now,
		}
	}
	return records
}
