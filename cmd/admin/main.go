// cmd/admin is the console operator tool: it polls the gateway's
// /admin/status and /games/lobby HTTP endpoints and fetches a single
// game's snapshot on demand.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
)

func main() {
	gatewayAddr := os.Getenv("GATEWAY_ADDR")
	if gatewayAddr == "" {
		gatewayAddr = "localhost:8080"
	}
	base := "http://" + gatewayAddr

	reader := bufio.NewReader(os.Stdin)
	for {
		printMenu()
		fmt.Print("> ")
		choice := readLine(reader)

		switch choice {
		case "1":
			printSystemStatus(base)
		case "2":
			printLobby(base)
		case "3":
			fmt.Print("game id: ")
			gameID := readLine(reader)
			printGameSnapshot(base, gameID)
		case "4":
			log.Println("[Admin] exiting")
			return
		default:
			fmt.Println("invalid option, try again")
		}
	}
}

func printMenu() {
	fmt.Println()
	fmt.Println("=========== Admin Console ===========")
	fmt.Println("1) view system status")
	fmt.Println("2) view open lobby")
	fmt.Println("3) view a game's snapshot")
	fmt.Println("4) exit")
	fmt.Println("======================================")
}

func printSystemStatus(base string) {
	body, err := getJSON(base + "/admin/status")
	if err != nil {
		log.Printf("[Admin] status error: %v\n", err)
		return
	}
	fmt.Println("\n==================== SYSTEM STATUS ====================")
	fmt.Println(body)
	fmt.Println("=========================================================")
}

func printLobby(base string) {
	body, err := getJSON(base + "/games/lobby")
	if err != nil {
		log.Printf("[Admin] lobby error: %v\n", err)
		return
	}
	fmt.Println("\n------------------- Open Lobby -------------------")
	if strings.TrimSpace(body) == "[]" || body == "null" {
		fmt.Println("  (no open games)")
	} else {
		fmt.Println(body)
	}
	fmt.Println("---------------------------------------------------")
}

func printGameSnapshot(base, gameID string) {
	if gameID == "" {
		fmt.Println("game id required")
		return
	}
	body, err := getJSON(base + "/games/" + gameID)
	if err != nil {
		log.Printf("[Admin] snapshot error: %v\n", err)
		return
	}
	fmt.Println("\n------------------- Game Snapshot -------------------")
	fmt.Println(body)
	fmt.Println("------------------------------------------------------")
}

func getJSON(url string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	var pretty interface{}
	if err := json.Unmarshal(data, &pretty); err == nil {
		if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			return string(out), nil
		}
	}
	return string(data), nil
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
