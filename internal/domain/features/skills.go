package features

import (
	"strings"
)

var skillAliases = map[string]string{
	"js":                "javascript",
	"javascript (es6+)": "javascript",
	"ts":                "typescript",
	"py":                "python",
	"golang":            "go",
	"node":              "node.js",
	"nodejs":            "node.js",
	"express":           "express.js",
	"react.js":          "react",
	"vue.js":            "vue",
	"angular.js":        "angular",
	"spring":            "spring boot",
	"spring framework":  "spring boot",
	"postgres":          "postgresql",
	"mongo":             "mongodb",
	"mysql server":      "mysql",
	"k8s":               "kubernetes",
	"docker compose":    "docker",
	"aws":               "amazon web services",
	"gcp":               "google cloud platform",
	"azure":             "microsoft azure",
	"rest api":          "restful api",
	"restful apis":      "restful api",
	"web api":           "restful api",
	"api development":   "restful api",
	"ml":                "machine learning",
	"deep learning":     "machine learning",
	"ui/ux design":      "design",
	"ui design":         "design",
	"ux design":         "design",
}

// NormalizeSkill lower-cases, trims, collapses whitespace and resolves aliases.
func NormalizeSkill(name string) string {
	s := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	if canonical, ok := skillAliases[s]; ok {
		return canonical
	}
	return s
}

// relatedSkills lists skills that indicate capability in the key skill.
var relatedSkills = map[string][]string{
	"java":          {"kotlin", "scala", "spring boot"},
	"kotlin":        {"java"},
	"spring boot":   {"java", "hibernate", "jpa"},
	"javascript":    {"typescript", "node.js", "react", "vue", "angular"},
	"typescript":    {"javascript", "angular", "nestjs"},
	"node.js":       {"javascript", "typescript", "express.js", "nestjs"},
	"react":         {"javascript", "typescript", "vue", "angular", "next.js", "redux"},
	"vue":           {"react", "angular", "javascript"},
	"angular":       {"react", "vue", "typescript"},
	"sql":           {"postgresql", "mysql", "sql server", "oracle"},
	"postgresql":    {"mysql", "sql", "sql server", "oracle", "database"},
	"mysql":         {"postgresql", "sql", "mariadb", "sql server"},
	"mongodb":       {"redis", "cassandra", "dynamodb"},
	"restful api":   {"spring boot", "express.js", "nestjs", "django", "flask", "fastapi", "go", "microservices"},
	"python":        {"django", "flask", "fastapi"},
	"go":            {"microservices", "grpc"},
	"kubernetes":    {"docker", "helm", "openshift"},
	"docker":        {"kubernetes", "podman"},
	"microservices": {"spring boot", "kubernetes", "restful api", "go"},
}

// Skill families used for domain and stack bonuses.
var (
	paymentSkills  = set("payment", "stripe", "paypal", "vnpay", "momo", "payment gateway", "e-commerce", "billing")
	apiSkills      = set("restful api", "graphql", "grpc", "microservices", "backend development", "api design")
	databaseSkills = set("sql", "postgresql", "mysql", "mongodb", "redis", "database", "query optimization")
	devopsSkills   = set("docker", "kubernetes", "ci/cd", "jenkins", "terraform", "amazon web services",
		"google cloud platform", "microsoft azure", "devops")
	mernSkills     = set("mongodb", "express.js", "react", "node.js")
	frontendSkills = set("react", "vue", "angular", "javascript", "typescript", "html", "css", "next.js")
	backendSkills  = set("java", "spring boot", "node.js", "express.js", "python", "django", "go", "sql",
		"postgresql", "mysql", "restful api")
	jsFrameworks = set("react", "vue", "angular", "next.js", "express.js", "nestjs")
)

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

func anyIn(skills map[string]float64, family map[string]struct{}) bool {
	for s := range skills {
		if _, ok := family[s]; ok {
			return true
		}
	}
	return false
}

func countIn(skills map[string]float64, family map[string]struct{}) int {
	n := 0
	for s := range skills {
		if _, ok := family[s]; ok {
			n++
		}
	}
	return n
}
