package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "login":
		loginUser(args)
	case "logout":
		logoutUser()
	case "who":
		whoAmI()
	case "bootstrap":
		fetchBootstrap(args)
	case "invalidate":
		invalidateCache(args)
	case "stats":
		cacheStats(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: propertyflow <command>

Commands:
  login       -email <email> -password <password>
  logout      remove the saved token
  who         show login state
  bootstrap   fetch the app-initialization payload [-refresh]
  invalidate  -scope user|tenant|all [-user <id>] [-tenant <id>]
  stats       show cache occupancy (admin)

Environment:
  PROPERTYFLOW_API  API base URL (default http://localhost:8080)`)
}

func loginUser(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "password")
	fs.Parse(args)

	if *email == "" || *password == "" {
		fmt.Println("Error: email and password are required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{"email": *email, "password": *password}
	data, _ := json.Marshal(payload)
	resp, err := http.Post(getAPIURL()+"/api/login", "application/json", bytes.NewReader(data))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == http.StatusOK {
		if token, ok := result["token"].(string); ok {
			saveToken(token)
			fmt.Printf("Logged in as: %s\n", *email)
		}
	} else {
		fmt.Printf("Login failed: %v\n", result)
	}
}

func logoutUser() {
	os.Remove(tokenFile())
	fmt.Println("Logged out")
}

func whoAmI() {
	token := loadToken()
	if token == "" {
		fmt.Println("Not logged in")
		return
	}
	preview := token
	if len(preview) > 20 {
		preview = preview[:20]
	}
	fmt.Printf("Logged in (token: %s...)\n", preview)
}

func fetchBootstrap(args []string) {
	fs := flag.NewFlagSet("bootstrap", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "bypass the response cache")
	fs.Parse(args)

	url := getAPIURL() + "/api/bootstrap"
	if *refresh {
		url += "?force_refresh=true"
	}

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var payload struct {
		User struct {
			Email   string `json:"email"`
			Role    string `json:"role"`
			IsAdmin bool   `json:"is_admin"`
		} `json:"user"`
		Permissions []map[string]string `json:"permissions"`
		Modules     []string            `json:"modules"`
		Metadata    struct {
			TenantID string `json:"tenant_id"`
			Partial  bool   `json:"partial"`
		} `json:"metadata"`
		CacheInfo struct {
			CacheHit       bool   `json:"cache_hit"`
			CacheLevel     string `json:"cache_level"`
			ResponseTimeMS int64  `json:"response_time_ms"`
		} `json:"cache_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Bootstrap failed: status %d\n", resp.StatusCode)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s (%s)\n", payload.User.Email, payload.User.Role)
	fmt.Fprintf(w, "Tenant:\t%s\n", payload.Metadata.TenantID)
	fmt.Fprintf(w, "Permissions:\t%d\n", len(payload.Permissions))
	fmt.Fprintf(w, "Modules:\t%v\n", payload.Modules)
	fmt.Fprintf(w, "Partial:\t%v\n", payload.Metadata.Partial)
	fmt.Fprintf(w, "Cache:\thit=%v level=%s %dms\n",
		payload.CacheInfo.CacheHit, payload.CacheInfo.CacheLevel, payload.CacheInfo.ResponseTimeMS)
	w.Flush()
}

func invalidateCache(args []string) {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	scope := fs.String("scope", "user", "user, tenant or all")
	userID := fs.String("user", "", "target user ID (admin)")
	tenantID := fs.String("tenant", "", "target tenant ID (admin)")
	fs.Parse(args)

	url := getAPIURL() + "/api/invalidate-cache?scope=" + *scope
	if *userID != "" {
		url += "&user_id=" + *userID
	}
	if *tenantID != "" {
		url += "&tenant_id=" + *tenantID
	}

	req, _ := http.NewRequest(http.MethodPost, url, nil)
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == http.StatusOK {
		fmt.Printf("Invalidated %v entries (scope %v)\n", result["removed"], result["scope"])
	} else {
		fmt.Printf("Invalidation failed: %v\n", result)
	}
}

func cacheStats(args []string) {
	_ = args
	req, _ := http.NewRequest(http.MethodGet, getAPIURL()+"/api/cache-stats", nil)
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var stats struct {
		L1 struct {
			Size        int    `json:"size"`
			Capacity    int    `json:"capacity"`
			TTLSeconds  int    `json:"ttl_seconds"`
			Utilization string `json:"utilization"`
		} `json:"l1"`
		L2 struct {
			Size        int    `json:"size"`
			Capacity    int    `json:"capacity"`
			TTLSeconds  int    `json:"ttl_seconds"`
			Utilization string `json:"utilization"`
		} `json:"l2"`
		AuthCache int `json:"auth_cache_entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Stats failed: status %d\n", resp.StatusCode)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tSIZE\tCAPACITY\tTTL\tUTILIZATION")
	fmt.Fprintf(w, "L1\t%d\t%d\t%ds\t%s\n", stats.L1.Size, stats.L1.Capacity, stats.L1.TTLSeconds, stats.L1.Utilization)
	fmt.Fprintf(w, "L2\t%d\t%d\t%ds\t%s\n", stats.L2.Size, stats.L2.Capacity, stats.L2.TTLSeconds, stats.L2.Utilization)
	fmt.Fprintf(w, "auth\t%d\t\t\t\n", stats.AuthCache)
	w.Flush()
}

func getAPIURL() string {
	if url := os.Getenv("PROPERTYFLOW_API"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func tokenFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".propertyflow", "token")
}

func saveToken(token string) error {
	dir := filepath.Dir(tokenFile())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(tokenFile(), []byte(token), 0600)
}

func loadToken() string {
	data, err := os.ReadFile(tokenFile())
	if err != nil {
		return ""
	}
	return string(data)
}

func addAuthHeader(req *http.Request) {
	if token := loadToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
