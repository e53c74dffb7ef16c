package server

import (
	"net/http"
	"strings"

	orderdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	UserEmail   string   `json:"user_email" binding:"required,email"`
	ProductKind string   `json:"product_kind" binding:"required"`
	Title       string   `json:"title" binding:"required"`
	Brief       string   `json:"brief"`
	MusicStyle  string   `json:"music_style"`
	Tone        string   `json:"tone"`
	Lyrics      string   `json:"lyrics"`
	ImageRefs   []string `json:"image_refs"`
}

type createOrderResponse struct {
	Order       *orderdomain.Order `json:"order"`
	CheckoutURL string             `json:"checkout_url"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, orderdomain.ErrInvalidRequest)
		return
	}

	result, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		UserID:      userID,
		UserEmail:   req.UserEmail,
		ProductKind: orderdomain.ProductKind(req.ProductKind),
		Title:       req.Title,
		Brief:       req.Brief,
		MusicStyle:  req.MusicStyle,
		Tone:        req.Tone,
		Lyrics:      req.Lyrics,
		ImageRefs:   req.ImageRefs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createOrderResponse{
		Order:       result.Order,
		CheckoutURL: result.CheckoutURL,
	})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	order, err := s.orderSvc.GetOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) ListOrderSongs(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	songs, err := s.songSvc.ListByOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"songs": songs})
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	if err := s.orderSvc.CancelOrder(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) RetryOrder(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	if err := s.orderSvc.RetryOrder(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retrying"})
}
