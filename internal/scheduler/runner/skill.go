package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/pkg/logger"
)

// skillFileName marks a directory as a loadable skill.
const skillFileName = "SKILL.md"

// skillEnforcer mirrors repo skills into the provider's home skill
// directory and prepends the enforcement preamble to task prompts, so CLI
// providers cannot silently run without the required skill.
type skillEnforcer struct {
	cfg      config.SkillEnforcement
	provider string
	baseDir  string
	logger   *logger.Logger
	homeDir  func() string
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/root"
	}
	return home
}

// preparePrompt runs the skill preflight for the given task and wraps the
// base prompt with the enforcement preamble. Preflight failures abort the
// task in strict mode and fall back to the plain prompt in warn mode.
func (s *skillEnforcer) preparePrompt(taskName, basePrompt string) (string, error) {
	if !s.cfg.Enabled {
		return basePrompt, nil
	}
	// API providers load no local skill files, so there is nothing to sync.
	if s.provider == "gemini" {
		return basePrompt, nil
	}
	strict := strings.ToLower(strings.TrimSpace(s.cfg.Mode)) != "warn"

	skillName, repoSkillDir, err := s.validateRequiredSkill(taskName)
	if err != nil {
		return s.preflightFailure(taskName, basePrompt, strict, err)
	}

	synced, err := s.syncToProviderHome()
	if err != nil {
		return s.preflightFailure(taskName, basePrompt, strict, err)
	}

	providerSkillDir := synced[skillName]
	if providerSkillDir == "" {
		err = fmt.Errorf("無法取得 provider skill 路徑: %s", skillName)
		return s.preflightFailure(taskName, basePrompt, strict, err)
	}

	s.logger.Info("Skill preflight succeeded",
		zap.String("task", taskName),
		zap.String("skill", skillName),
		zap.String("provider", s.provider),
		zap.String("repo_skill_dir", repoSkillDir),
		zap.String("provider_skill_dir", providerSkillDir),
	)
	return buildEnforcedPrompt(taskName, basePrompt, skillName, repoSkillDir, providerSkillDir), nil
}

func (s *skillEnforcer) preflightFailure(taskName, basePrompt string, strict bool, err error) (string, error) {
	if strict {
		s.logger.Error("Skill preflight failed", zap.String("task", taskName), zap.Error(err))
		return "", err
	}
	s.logger.Warn("Skill preflight failed, falling back to the plain prompt",
		zap.String("task", taskName),
		zap.Error(err),
	)
	return basePrompt, nil
}

// validateRequiredSkill resolves the skill the task must use and confirms it
// exists under one of the source roots.
func (s *skillEnforcer) validateRequiredSkill(taskName string) (string, string, error) {
	skillName := strings.TrimSpace(s.cfg.TaskSkillMap[taskName])
	if skillName == "" {
		return "", "", fmt.Errorf("task_skill_map 未定義: %s", taskName)
	}

	roots, _, err := s.sourceRoots()
	if err != nil {
		return "", "", err
	}
	repoSkillDir := findSkillPath(skillName, roots)
	if repoSkillDir == "" {
		return "", "", fmt.Errorf("缺少必要 skill: %s", skillName)
	}
	return skillName, repoSkillDir, nil
}

// repoSkillRoots resolves the configured roots against the base directory.
// Roots under the current provider's dot directory come first so its own
// skill copies win over shared ones.
func (s *skillEnforcer) repoSkillRoots() []string {
	preferredMarker := "." + s.provider + "/skills"

	var preferred, others []string
	for _, root := range s.cfg.RepoSkillRoots {
		rootPath := strings.TrimSpace(root)
		if rootPath == "" {
			continue
		}
		if !filepath.IsAbs(rootPath) {
			rootPath = filepath.Join(s.baseDir, rootPath)
		}
		rootPath = filepath.Clean(rootPath)
		if strings.Contains(rootPath, preferredMarker) {
			preferred = append(preferred, rootPath)
			continue
		}
		others = append(others, rootPath)
	}
	return append(preferred, others...)
}

// providerSkillHome resolves the provider's home skill directory. Configs
// written for root deployments carry /root paths; when the scheduler runs as
// another user those remap to the current home.
func (s *skillEnforcer) providerSkillHome() (string, error) {
	raw := strings.TrimSpace(s.cfg.ProviderHomeMap[s.provider])
	if raw == "" {
		return "", fmt.Errorf("ai.skill_enforcement.provider_home_map 未定義 provider: %s", s.provider)
	}

	home := s.homeDir()
	resolved := expandUser(raw, home)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(s.baseDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	if strings.HasPrefix(resolved, "/root/") && home != "/root" {
		resolved = filepath.Join(home, strings.TrimPrefix(resolved, "/root/"))
	}
	return resolved, nil
}

// sourceRoots returns the deduplicated skill lookup order: repo roots first,
// then the provider home as a fallback source.
func (s *skillEnforcer) sourceRoots() ([]string, string, error) {
	var roots []string
	for _, root := range s.repoSkillRoots() {
		if containsString(roots, root) {
			continue
		}
		roots = append(roots, root)
	}

	providerHome, err := s.providerSkillHome()
	if err != nil {
		return roots, "", err
	}
	if !containsString(roots, providerHome) {
		roots = append(roots, providerHome)
	}
	return roots, providerHome, nil
}

// collectSkillMap gathers every loadable skill under the roots. The first
// root providing a skill name wins.
func (s *skillEnforcer) collectSkillMap(roots []string) map[string]string {
	skillMap := make(map[string]string)
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if _, ok := skillMap[name]; ok {
				continue
			}
			skillDir := filepath.Join(root, name)
			if !isDir(skillDir) {
				continue
			}
			if !isFile(filepath.Join(skillDir, skillFileName)) {
				continue
			}
			skillMap[name] = skillDir
		}
	}
	return skillMap
}

// syncToProviderHome mirrors every collected skill into the provider home
// and returns skill name to synced path. Sources already living at their
// target are left untouched so a shared root never deletes itself.
func (s *skillEnforcer) syncToProviderHome() (map[string]string, error) {
	roots, providerHome, err := s.sourceRoots()
	if err != nil {
		return nil, err
	}

	skillMap := s.collectSkillMap(roots)
	if len(skillMap) == 0 {
		return nil, errors.New("repo_skill_roots 下找不到可用 skill")
	}

	if err := os.MkdirAll(providerHome, 0o755); err != nil {
		return nil, fmt.Errorf("無法建立 provider skill 目錄: %s, error: %v", providerHome, err)
	}

	names := make([]string, 0, len(skillMap))
	for name := range skillMap {
		names = append(names, name)
	}
	sort.Strings(names)

	synced := make(map[string]string, len(skillMap))
	for _, skillName := range names {
		sourceDir := skillMap[skillName]
		targetDir := filepath.Join(providerHome, skillName)
		if filepath.Clean(sourceDir) != filepath.Clean(targetDir) {
			if err := os.RemoveAll(targetDir); err != nil {
				return nil, fmt.Errorf("無法同步 skill 至 provider home: %s, error: %v", targetDir, err)
			}
			if err := copyDir(sourceDir, targetDir); err != nil {
				return nil, fmt.Errorf("無法同步 skill 至 provider home: %s, error: %v", targetDir, err)
			}
		}
		synced[skillName] = targetDir
	}
	return synced, nil
}

// buildEnforcedPrompt prepends the enforcement preamble the providers are
// instructed to obey before the original task.
func buildEnforcedPrompt(taskName, basePrompt, skillName, repoSkillDir, providerSkillDir string) string {
	var b strings.Builder
	b.WriteString("【Skill 強制規則】\n")
	fmt.Fprintf(&b, "- 任務類型：%s\n", taskName)
	fmt.Fprintf(&b, "- 本次任務必須使用 skill：%s\n", skillName)
	fmt.Fprintf(&b, "- 專案 skill 路徑：%s\n", repoSkillDir)
	fmt.Fprintf(&b, "- Provider home skill 路徑：%s\n", providerSkillDir)
	b.WriteString("- 請先讀取該 skill 的 SKILL.md 並嚴格遵循其 workflow。\n")
	b.WriteString("- 若無法載入 skill，必須立即回報錯誤並停止，不可改用一般流程。\n\n")
	b.WriteString("【原始任務】\n")
	b.WriteString(basePrompt)
	return b.String()
}

func findSkillPath(skillName string, roots []string) string {
	for _, root := range roots {
		skillDir := filepath.Join(root, skillName)
		if isDir(skillDir) && isFile(filepath.Join(skillDir, skillFileName)) {
			return skillDir
		}
	}
	return ""
}

func copyDir(sourceDir, targetDir string) error {
	return filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(targetDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

func expandUser(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
