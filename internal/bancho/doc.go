// Package bancho реализует IRC-клиент osu! Bancho (irc.ppy.sh).
// Клиент умеет подключаться по TCP (irc://host:6667), TLS (ircs://host:6697)
// либо через WebSocket (ws:// и wss://, IRCv3 WebSocket), отправлять личные
// сообщения, создавать мультиплеерные комнаты через BanchoBot и разбирать
// его ответы в канале комнаты.
//
// События клиента (колбэки поля структуры):
//   - OnConnecting, OnConnected, OnDisconnected, OnError, OnPM.
//
// События комнаты (osu.RoomEvents) доставляются отдельной горутиной в
// порядке прихода, не блокируя чтение сокета. Unlisten не ждёт доставки.
//
// Безопасность и устойчивость:
//   - Запись в сокет сериализована и ограничена по частоте (SendInterval).
//   - Keep-alive: PING при тишине, обрыв при долгом молчании сервера.
//   - Реконнект с экспоненциальной задержкой (1s..30s) и повторным JOIN
//     каналов открытых комнат.
//
// Пример:
//
//	c := bancho.New(bancho.Config{Username: "bot", Password: "irc-pass"})
//	c.OnPM = func(m osu.Message) { fmt.Println(m.User.Name, m.Content) }
//	if err := c.Connect(ctx); err != nil { log.Fatal(err) }
//	defer c.Disconnect()
//
//	l, err := c.CreateLobby(ctx, "test room")
//	if err != nil { log.Fatal(err) }
//	l.Listen(osu.RoomEvents{
//	    PlayerJoined: func(s osu.Slot) { _ = l.Say("hi " + s.Player.Name) },
//	})
//	_ = l.Invite(osu.User{Name: "peppy"})
package bancho
