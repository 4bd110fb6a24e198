// cmd/client is an interactive console player: it dials the gateway's
// websocket, drives a numbered menu of game commands, and prints every
// inbound server frame as it arrives.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vimsent/chessrt/internal/identity"
)

func main() {
	userID := os.Getenv("USER_ID")
	if userID == "" {
		userID = fmt.Sprintf("player-%d", rand.Intn(10000))
	}
	username := os.Getenv("USERNAME")
	if username == "" {
		username = userID
	}
	gatewayAddr := os.Getenv("GATEWAY_ADDR")
	if gatewayAddr == "" {
		gatewayAddr = "localhost:8080"
	}
	secret := os.Getenv("IDENTITY_JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	idp := identity.NewJWTProvider(secret)
	token, err := idp.Issue(userID, username, time.Hour)
	if err != nil {
		log.Fatalf("[Player %s] could not mint credential: %v", userID, err)
	}

	u := url.URL{Scheme: "ws", Host: gatewayAddr, Path: "/ws", RawQuery: "token=" + token}
	log.Printf("[Player %s] connecting to %s\n", userID, u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("[Player %s] dial failed: %v", userID, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go readLoop(conn, userID, done)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	reader := bufio.NewReader(os.Stdin)
	activeGame := ""
	for {
		printMenu(activeGame)
		fmt.Print("> ")

		lineCh := make(chan string, 1)
		go func() {
			line, _ := reader.ReadString('\n')
			lineCh <- strings.TrimSpace(line)
		}()

		select {
		case <-done:
			log.Printf("[Player %s] connection closed by server\n", userID)
			return
		case <-sig:
			log.Printf("[Player %s] interrupt received, closing\n", userID)
			_ = conn.Close()
			return
		case choice := <-lineCh:
			switch choice {
			case "1":
				activeGame = createGame(reader, gatewayAddr, token)
			case "2":
				activeGame = joinGame(conn, reader)
			case "3":
				makeMove(conn, reader, activeGame)
			case "4":
				sendSimple(conn, "resign", activeGame)
			case "5":
				sendSimple(conn, "offer_draw", activeGame)
			case "6":
				sendSimple(conn, "accept_draw", activeGame)
			case "7":
				sendSimple(conn, "decline_draw", activeGame)
			case "8":
				activeGame = subscribe(conn, reader)
			case "9":
				sendChat(conn, reader, activeGame)
			case "10":
				log.Printf("[Player %s] exiting\n", userID)
				_ = conn.Close()
				return
			default:
				fmt.Println("invalid choice, try again")
			}
		}
	}
}

func printMenu(activeGame string) {
	fmt.Println()
	fmt.Println("========== Player Menu ==========")
	if activeGame != "" {
		fmt.Printf("active game: %s\n", activeGame)
	}
	fmt.Println("1) create game")
	fmt.Println("2) join game")
	fmt.Println("3) make move")
	fmt.Println("4) resign")
	fmt.Println("5) offer draw")
	fmt.Println("6) accept draw")
	fmt.Println("7) decline draw")
	fmt.Println("8) subscribe to game (spectate)")
	fmt.Println("9) send chat message")
	fmt.Println("10) exit")
	fmt.Println("==================================")
}

func send(conn *websocket.Conn, cmd, game string, args interface{}) {
	raw, err := json.Marshal(args)
	if err != nil {
		log.Printf("encode args: %v\n", err)
		return
	}
	frame := struct {
		V    int             `json:"v"`
		ID   string          `json:"id"`
		Cmd  string          `json:"cmd"`
		Game string          `json:"game,omitempty"`
		Args json.RawMessage `json:"args,omitempty"`
	}{V: 1, ID: uuid.NewString(), Cmd: cmd, Game: game, Args: raw}
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("send %s failed: %v\n", cmd, err)
	}
}

func sendSimple(conn *websocket.Conn, cmd, game string) {
	if game == "" {
		fmt.Println("no active game; join or create one first")
		return
	}
	send(conn, cmd, game, struct{}{})
}

// createGame uses the HTTP shell (POST /games), since the wire protocol's
// join_game command only fills an existing Lobby seat; creation has no
// realtime command counterpart.
func createGame(reader *bufio.Reader, gatewayAddr, token string) string {
	fmt.Print("mode (bullet/blitz/rapid/classical) [blitz]: ")
	mode := readLine(reader)
	if mode == "" {
		mode = "blitz"
	}
	fmt.Print("color preference (white/black/blank for random): ")
	color := readLine(reader)

	body, _ := json.Marshal(struct {
		InitialMs   int64  `json:"initialMs"`
		IncrementMs int64  `json:"incrementMs"`
		DelayMs     int64  `json:"delayMs"`
		Discipline  string `json:"discipline"`
		Mode        string `json:"mode"`
		Color       string `json:"color,omitempty"`
	}{InitialMs: 300000, IncrementMs: 2000, Discipline: "fischer-only", Mode: mode, Color: color})

	req, err := http.NewRequest(http.MethodPost, "http://"+gatewayAddr+"/games", bytes.NewReader(body))
	if err != nil {
		log.Printf("create game: %v\n", err)
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("create game: %v\n", err)
		return ""
	}
	defer resp.Body.Close()

	var state struct {
		ID string
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		log.Printf("create game: decode response: %v\n", err)
		return ""
	}
	fmt.Printf("created game %s\n", state.ID)
	return state.ID
}

func joinGame(conn *websocket.Conn, reader *bufio.Reader) string {
	fmt.Print("game id: ")
	gameID := readLine(reader)
	send(conn, "join_game", gameID, struct{}{})
	return gameID
}

func subscribe(conn *websocket.Conn, reader *bufio.Reader) string {
	fmt.Print("game id: ")
	gameID := readLine(reader)
	send(conn, "subscribe", gameID, struct {
		Role string `json:"role,omitempty"`
	}{Role: "spectator"})
	return gameID
}

func makeMove(conn *websocket.Conn, reader *bufio.Reader, gameID string) {
	if gameID == "" {
		fmt.Println("no active game; join or create one first")
		return
	}
	fmt.Print("from (e.g. e2): ")
	from := readLine(reader)
	fmt.Print("to (e.g. e4): ")
	to := readLine(reader)
	fmt.Print("promotion (blank if none): ")
	promo := readLine(reader)
	send(conn, "make_move", gameID, struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Promotion string `json:"promotion,omitempty"`
	}{From: from, To: to, Promotion: promo})
}

func sendChat(conn *websocket.Conn, reader *bufio.Reader, gameID string) {
	if gameID == "" {
		fmt.Println("no active game; join or create one first")
		return
	}
	fmt.Print("message: ")
	body := readLine(reader)
	send(conn, "chat", gameID, struct {
		Body string `json:"body"`
	}{Body: body})
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func readLoop(conn *websocket.Conn, userID string, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[Player %s] read error: %v\n", userID, err)
			return
		}
		fmt.Printf("\n<- %s\n", string(raw))
	}
}
